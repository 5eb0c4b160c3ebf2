package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fieldserve/internal/config"
	"fieldserve/internal/database"
	"fieldserve/internal/domain"
	"fieldserve/internal/models"
)

// fakeGateway is an in-memory payment provider. Statuses are scripted per
// order id; unscripted orders stay PENDING.
type fakeGateway struct {
	mu          sync.Mutex
	statuses    map[string]string
	initiateErr error
	refundErr   error
	initiated   []string
	refunded    []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]string)}
}

func (g *fakeGateway) setStatus(orderID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[orderID] = status
}

func (g *fakeGateway) InitiatePayment(_ context.Context, orderID string, amount int64, _ string) (*domain.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	g.initiated = append(g.initiated, orderID)
	return &domain.GatewayPayment{
		OrderID:     orderID,
		GatewayRef:  "gw-" + orderID,
		RedirectURL: "https://pay.example/" + orderID,
		Amount:      amount,
	}, nil
}

func (g *fakeGateway) VerifyStatus(_ context.Context, orderID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if status, ok := g.statuses[orderID]; ok {
		return status, nil
	}
	return models.PaymentPending, nil
}

func (g *fakeGateway) Refund(_ context.Context, orderID string, _ int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunded = append(g.refunded, orderID)
	return "refund-ref-" + orderID, nil
}

type testServices struct {
	db       *database.DB
	gateway  *fakeGateway
	ledger   *LedgerService
	jobs     *JobService
	bids     *BidService
	bookings *BookingService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gateway := newFakeGateway()
	ledger := NewLedgerService(db, nil, gateway, nil, &logger)
	pricing := NewPricing([]config.Coupon{
		{Code: "WELCOME10", Mode: config.FeeModePercent, Value: 10, MaxOff: 5000, Enabled: true},
		{Code: "FLAT200", Mode: config.FeeModeFlat, Value: 200, Enabled: true},
		{Code: "EXPIRED", Mode: config.FeeModeFlat, Value: 500, Enabled: false},
	})
	return &testServices{
		db:       db,
		gateway:  gateway,
		ledger:   ledger,
		jobs:     NewJobService(db, pricing, 10, nil, &logger),
		bids:     NewBidService(db, config.BidFee{Mode: config.FeeModeFlat, Value: 50}, nil, &logger),
		bookings: NewBookingService(db, ledger, gateway, ProportionalRefundPolicy{}, nil, &logger),
	}
}

func (ts *testServices) createJob(t *testing.T, customerID int64) *models.Job {
	t.Helper()
	job, err := ts.jobs.CreateJob(context.Background(), CreateJobInput{
		CustomerID:  customerID,
		ServiceID:   7,
		ServiceName: "AC repair",
		Price:       1000,
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Latitude:    -6.2,
		Longitude:   106.8,
		Address:     "Jl. Sudirman 1",
	})
	require.NoError(t, err)
	return job
}

func (ts *testServices) fund(t *testing.T, userType string, userID, amount int64) {
	t.Helper()
	_, err := ts.ledger.CreditWallet(context.Background(), userType, userID, amount, models.WalletRefs{
		OrderID: fmt.Sprintf("seed-%s-%d-%d", userType, userID, time.Now().UnixNano()),
		Note:    "seed",
	})
	require.NoError(t, err)
}

func (ts *testServices) placeBid(t *testing.T, job *models.Job, partnerID, price int64) *models.Bid {
	t.Helper()
	ts.fund(t, models.ActorPartner, partnerID, 1000)
	bid, err := ts.bids.PlaceBid(context.Background(), PlaceBidInput{
		JobID:     job.ID,
		PartnerID: partnerID,
		Price:     price,
	})
	require.NoError(t, err)
	return bid
}

func (ts *testServices) confirmedBooking(t *testing.T, customerID, partnerID, price int64) *models.Booking {
	t.Helper()
	job := ts.createJob(t, customerID)
	bid := ts.placeBid(t, job, partnerID, price)
	booking, err := ts.jobs.AcceptBid(context.Background(), job.ID, bid.ID, -6.21, 106.81)
	require.NoError(t, err)
	return booking
}
