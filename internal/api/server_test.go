package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldserve/internal/config"
	"fieldserve/internal/database"
	"fieldserve/internal/domain"
	"fieldserve/internal/export"
	"fieldserve/internal/models"
	"fieldserve/internal/payment"
	"fieldserve/internal/service"
)

type stubGateway struct{}

func (stubGateway) InitiatePayment(_ context.Context, orderID string, amount int64, _ string) (*domain.GatewayPayment, error) {
	return &domain.GatewayPayment{OrderID: orderID, GatewayRef: "gw-" + orderID, RedirectURL: "https://pay.example/" + orderID, Amount: amount}, nil
}

func (stubGateway) VerifyStatus(_ context.Context, _ string) (string, error) {
	return models.PaymentPending, nil
}

func (stubGateway) Refund(_ context.Context, orderID string, _ int64) (string, error) {
	return "refund-ref-" + orderID, nil
}

type testServer struct {
	srv    *HTTPServer
	db     *database.DB
	ledger *service.LedgerService
	signer *payment.Client
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "admin-key", Name: "admin"},
				{Key: "read-key", Name: "reader", Permissions: []string{"read"}},
			},
		},
	}
}

func newTestServer(t *testing.T, cfg config.APIConfig) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	signer := payment.NewClient(config.GatewayConfig{
		MerchantCode: "MC01",
		Secret:       "test-secret",
	}, &logger)

	gateway := stubGateway{}
	ledger := service.NewLedgerService(db, nil, gateway, nil, &logger)
	jobs := service.NewJobService(db, nil, 10, nil, &logger)
	bids := service.NewBidService(db, config.BidFee{Mode: config.FeeModeFlat, Value: 50}, nil, &logger)
	bookings := service.NewBookingService(db, ledger, gateway, nil, nil, &logger)
	exporter := export.NewExporter(db, filepath.Join(t.TempDir(), "exports"), &logger)

	srv := NewHTTPServer(cfg, jobs, bids, bookings, ledger, signer, exporter, &logger)
	return &testServer{srv: srv, db: db, ledger: ledger, signer: signer}
}

func (ts *testServer) do(t *testing.T, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createJob(t *testing.T, customerID int64) *models.Job {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/jobs", "admin-key", map[string]any{
		"customer_id":  customerID,
		"service_id":   7,
		"service_name": "AC repair",
		"price":        1000,
		"scheduled_at": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"latitude":     -6.2,
		"longitude":    106.8,
		"address":      "Jl. Sudirman 1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return &job
}

func (ts *testServer) fund(t *testing.T, userType string, userID, amount int64) {
	t.Helper()
	_, err := ts.ledger.CreditWallet(context.Background(), userType, userID, amount, models.WalletRefs{
		OrderID: fmt.Sprintf("seed-%s-%d-%d", userType, userID, time.Now().UnixNano()),
	})
	require.NoError(t, err)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rec := ts.do(t, http.MethodGet, "/api/v1/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs", "read-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Read-only key cannot write.
	rec = ts.do(t, http.MethodPost, "/api/v1/jobs", "read-key", map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Open paths skip auth entirely.
	rec = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobEndpoints(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	job := ts.createJob(t, 1)
	require.NotZero(t, job.ID)
	assert.Equal(t, models.JobOpen, job.Status)

	rec := ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d", job.ID), "admin-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs/99999", "admin-key", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs/abc", "admin-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/jobs", "admin-key", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Validation errors map to 400.
	rec = ts.do(t, http.MethodPost, "/api/v1/jobs", "admin-key", map[string]any{
		"customer_id":  1,
		"service_id":   7,
		"price":        0,
		"scheduled_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		"latitude":     -6.2,
		"longitude":    106.8,
		"address":      "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBidEndpoints(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	job := ts.createJob(t, 1)

	// Broke partner gets 402.
	rec := ts.do(t, http.MethodPost, "/api/v1/bids", "admin-key", map[string]any{
		"job_id":     job.ID,
		"partner_id": 10,
		"price":      900,
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	ts.fund(t, models.ActorPartner, 10, 500)
	rec = ts.do(t, http.MethodPost, "/api/v1/bids", "admin-key", map[string]any{
		"job_id":     job.ID,
		"partner_id": 10,
		"price":      900,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var bid models.Bid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bid))

	// Duplicate pending bid conflicts.
	rec = ts.do(t, http.MethodPost, "/api/v1/bids", "admin-key", map[string]any{
		"job_id":     job.ID,
		"partner_id": 10,
		"price":      850,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d/bids", job.ID), "admin-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/bids/accept", "admin-key", map[string]any{
		"job_id":            job.ID,
		"bid_id":            bid.ID,
		"partner_latitude":  -6.21,
		"partner_longitude": 106.81,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, models.BookingConfirmed, booking.Status)

	// A second acceptance on the same job conflicts.
	rec = ts.do(t, http.MethodPost, "/api/v1/bids/accept", "admin-key", map[string]any{
		"job_id": job.ID,
		"bid_id": bid.ID,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBookingStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())
	ctx := context.Background()

	job := ts.createJob(t, 1)
	ts.fund(t, models.ActorPartner, 10, 500)
	rec := ts.do(t, http.MethodPost, "/api/v1/bids", "admin-key", map[string]any{
		"job_id":     job.ID,
		"partner_id": 10,
		"price":      900,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var bid models.Bid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bid))

	rec = ts.do(t, http.MethodPost, "/api/v1/bids/accept", "admin-key", map[string]any{
		"job_id": job.ID,
		"bid_id": bid.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))

	rec = ts.do(t, http.MethodPost, "/api/v1/bookings/status", "admin-key", map[string]any{
		"booking_id": booking.ID,
		"status":     models.BookingOnTheWay,
		"role":       models.ActorPartner,
		"actor_id":   10,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Illegal transition maps to 409.
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings/status", "admin-key", map[string]any{
		"booking_id": booking.ID,
		"status":     models.BookingCompleted,
		"role":       models.ActorPartner,
		"actor_id":   10,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Foreign partner maps to 403.
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings/status", "admin-key", map[string]any{
		"booking_id": booking.ID,
		"status":     models.BookingArrived,
		"role":       models.ActorPartner,
		"actor_id":   99,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Wrong OTP maps to 400.
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings/status", "admin-key", map[string]any{
		"booking_id": booking.ID,
		"status":     models.BookingArrived,
		"role":       models.ActorPartner,
		"actor_id":   10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings/status", "admin-key", map[string]any{
		"booking_id": booking.ID,
		"status":     models.BookingInProgress,
		"role":       models.ActorPartner,
		"actor_id":   10,
		"otp":        "wrong",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stored, err := ts.db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodPost, "/api/v1/bookings/status", "admin-key", map[string]any{
		"booking_id": booking.ID,
		"status":     models.BookingInProgress,
		"role":       models.ActorPartner,
		"actor_id":   10,
		"otp":        stored.OTP,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestWalletEndpoints(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rec := ts.do(t, http.MethodGet, "/api/v1/wallet/balance", "admin-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.fund(t, models.ActorPartner, 10, 700)
	rec = ts.do(t, http.MethodGet, "/api/v1/wallet/balance?user_type=partner&user_id=10", "admin-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance models.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, int64(700), balance.Available())

	rec = ts.do(t, http.MethodPost, "/api/v1/wallet/topup", "admin-key", map[string]any{
		"user_type": models.ActorCustomer,
		"user_id":   1,
		"amount":    1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var pay domain.GatewayPayment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pay))
	assert.NotEmpty(t, pay.RedirectURL)
}

func TestWebhook(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())
	ctx := context.Background()

	// A topup order to confirm through the webhook.
	pay, err := ts.ledger.InitiateTopup(ctx, models.ActorCustomer, 1, 1000)
	require.NoError(t, err)

	// Bad signature is rejected without auth headers even being looked at.
	rec := ts.do(t, http.MethodPost, "/api/v1/payments/webhook", "", map[string]any{
		"order_id":  pay.OrderID,
		"status":    "PAID",
		"amount":    1000,
		"signature": "forged",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/payments/webhook", "", map[string]any{
		"order_id":  pay.OrderID,
		"status":    "PAID",
		"amount":    1000,
		"signature": ts.signer.Sign(pay.OrderID, 1000),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	balance, err := ts.ledger.ComputeBalance(ctx, models.ActorCustomer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Available())

	// Replay is accepted and harmless.
	rec = ts.do(t, http.MethodPost, "/api/v1/payments/webhook", "", map[string]any{
		"order_id":  pay.OrderID,
		"status":    "PAID",
		"amount":    1000,
		"signature": ts.signer.Sign(pay.OrderID, 1000),
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	balance, err = ts.ledger.ComputeBalance(ctx, models.ActorCustomer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Available())

	rec = ts.do(t, http.MethodPost, "/api/v1/payments/webhook", "", map[string]any{
		"status": "PAID",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportEndpoints(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())
	ctx := context.Background()

	_, err := ts.ledger.RecordTransaction(ctx, &models.Transaction{
		OrderID:    "order-export-1",
		ActorType:  models.ActorCustomer,
		ActorID:    1,
		Direction:  models.DirectionDebited,
		PaymentBy:  models.PaymentByGateway,
		PaymentFor: models.PayForBooking,
		Amount:     900,
	})
	require.NoError(t, err)

	from := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	to := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	rec := ts.do(t, http.MethodGet, "/api/v1/exports/transactions?from="+from+"&to="+to, "admin-key", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "transactions_")
	assert.NotZero(t, rec.Body.Len())

	rec = ts.do(t, http.MethodGet, "/api/v1/exports/transactions?from=bogus&to="+to, "admin-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The read-only key lacks the exports permission.
	rec = ts.do(t, http.MethodGet, "/api/v1/exports/transactions?from="+from+"&to="+to, "read-key", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/exports/statement?booking_id=1", "admin-key", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "statement")

	rec = ts.do(t, http.MethodGet, "/api/v1/exports/statement", "admin-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	ts := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodGet, "/api/v1/jobs", "admin-key", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := ts.do(t, http.MethodGet, "/api/v1/jobs", "admin-key", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Each key has its own bucket.
	rec = ts.do(t, http.MethodGet, "/api/v1/jobs", "read-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
