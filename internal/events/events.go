package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventJobCreated           = "job_created"
	EventJobExpired           = "job_expired"
	EventBidPlaced            = "bid_placed"
	EventBidAccepted          = "bid_accepted"
	EventBidDeclined          = "bid_declined"
	EventBidCancelled         = "bid_cancelled"
	EventBookingStatusChanged = "booking_status_changed"
	EventBookingCompleted     = "booking_completed"
	EventBookingCancelled     = "booking_cancelled"
	EventExtraWorkAdded       = "extra_work_added"
	EventExtraWorkConfirmed   = "extra_work_confirmed"
	EventPaymentRecorded      = "payment_recorded"
	EventRefundInitiated      = "refund_initiated"
)

// JobEventPayload is the minimal job snapshot for event consumers.
type JobEventPayload struct {
	JobID      int64  `json:"job_id"`
	CustomerID int64  `json:"customer_id"`
	ServiceID  int64  `json:"service_id"`
	Price      int64  `json:"price"`
	Status     string `json:"status"`
}

type BidEventPayload struct {
	BidID     int64  `json:"bid_id"`
	JobID     int64  `json:"job_id"`
	PartnerID int64  `json:"partner_id"`
	Price     int64  `json:"price"`
	Status    string `json:"status"`
}

type BookingEventPayload struct {
	BookingID  int64  `json:"booking_id"`
	JobID      int64  `json:"job_id"`
	CustomerID int64  `json:"customer_id"`
	PartnerID  int64  `json:"partner_id"`
	From       string `json:"from,omitempty"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount,omitempty"`
	ChangedBy  string `json:"changed_by,omitempty"`
}

type PaymentEventPayload struct {
	OrderID   string `json:"order_id"`
	Direction string `json:"direction"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	For       string `json:"payment_for"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event. Handlers must tolerate being called after
// the triggering request has already returned; a handler error never rolls
// back the state change that produced the event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
