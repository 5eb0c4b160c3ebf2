package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldserve/internal/database"
	"fieldserve/internal/models"
	"fieldserve/internal/repository"
)

func TestRecordTransactionValidation(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	_, err := ts.ledger.RecordTransaction(ctx, &models.Transaction{Direction: models.DirectionDebited, Amount: 100})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ts.ledger.RecordTransaction(ctx, &models.Transaction{OrderID: "x", Direction: models.DirectionDebited, Amount: 0})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ts.ledger.RecordTransaction(ctx, &models.Transaction{OrderID: "x", Direction: "sideways", Amount: 100})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordTransactionIdempotent(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	txn := &models.Transaction{
		OrderID:   "order-1",
		ActorType: models.ActorCustomer,
		ActorID:   1,
		Direction: models.DirectionDebited,
		PaymentBy: models.PaymentByGateway,
		Amount:    500,
	}
	created, err := ts.ledger.RecordTransaction(ctx, txn)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, txn.InvoiceNo)
	assert.Equal(t, models.PaymentPending, txn.PaymentStatus)

	replay := &models.Transaction{
		OrderID:   "order-1",
		ActorType: models.ActorCustomer,
		ActorID:   1,
		Direction: models.DirectionDebited,
		PaymentBy: models.PaymentByGateway,
		Amount:    999,
	}
	created, err = ts.ledger.RecordTransaction(ctx, replay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(500), replay.Amount)
	assert.Equal(t, txn.ID, replay.ID)
}

func TestInitiateTopupFlow(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	payment, err := ts.ledger.InitiateTopup(ctx, models.ActorCustomer, 1, 1000)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.NotEmpty(t, payment.RedirectURL)

	// The pending credit does not count yet.
	balance, err := ts.ledger.ComputeBalance(ctx, models.ActorCustomer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Available())

	// Gateway confirmation materializes the credit.
	_, advanced, err := ts.ledger.ApplyGatewayResult(ctx, payment.OrderID, models.PaymentCompleted, "cb-topup")
	require.NoError(t, err)
	assert.True(t, advanced)

	balance, err = ts.ledger.ComputeBalance(ctx, models.ActorCustomer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Available())

	// The callback replay does not credit twice.
	_, advanced, err = ts.ledger.ApplyGatewayResult(ctx, payment.OrderID, models.PaymentCompleted, "cb-topup")
	require.NoError(t, err)
	assert.False(t, advanced)

	balance, err = ts.ledger.ComputeBalance(ctx, models.ActorCustomer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Available())
}

func TestInitiateTopupValidation(t *testing.T) {
	ts := newTestServices(t)
	_, err := ts.ledger.InitiateTopup(context.Background(), models.ActorCustomer, 1, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRefundToWalletCreditsOnce(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	txn := &models.Transaction{
		OrderID:   "wallet-refund-1",
		ActorType: models.ActorCustomer,
		ActorID:   1,
		Amount:    400,
	}
	require.NoError(t, ts.ledger.RefundToWallet(ctx, txn))
	assert.Equal(t, models.PaymentRefundToWallet, txn.PaymentStatus)
	assert.Equal(t, models.PaymentByWallet, txn.PaymentBy)

	balance, err := ts.ledger.ComputeBalance(ctx, models.ActorCustomer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance.Available())

	// Replaying the refund leaves the balance alone.
	replay := &models.Transaction{
		OrderID:   "wallet-refund-1",
		ActorType: models.ActorCustomer,
		ActorID:   1,
		Amount:    400,
	}
	require.NoError(t, ts.ledger.RefundToWallet(ctx, replay))

	balance, err = ts.ledger.ComputeBalance(ctx, models.ActorCustomer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance.Available())
}

func TestDispatchRefundGatewayFailure(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	txn := &models.Transaction{
		OrderID:       "refund-1",
		ActorType:     models.ActorCustomer,
		ActorID:       1,
		Direction:     models.DirectionCredited,
		PaymentBy:     models.PaymentByGateway,
		PaymentFor:    models.PayForRefund,
		Amount:        300,
		PaymentStatus: models.PaymentRefundPending,
	}
	_, err := ts.ledger.RecordTransaction(ctx, txn)
	require.NoError(t, err)

	ts.gateway.refundErr = errors.New("gateway down")
	require.NoError(t, ts.ledger.DispatchRefund(ctx, "refund-1"))

	// Still pending, no ref: the reconciler will pick it up.
	stored, err := ts.db.GetTransactionByOrderID(ctx, "refund-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefundPending, stored.PaymentStatus)
	assert.Empty(t, stored.GatewayRef)

	// Once the gateway recovers the ref lands, status unchanged.
	ts.gateway.refundErr = nil
	require.NoError(t, ts.ledger.DispatchRefund(ctx, "refund-1"))

	stored, err = ts.db.GetTransactionByOrderID(ctx, "refund-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefundPending, stored.PaymentStatus)
	assert.Equal(t, "refund-ref-refund-1", stored.GatewayRef)
}

func TestDispatchRefundIgnoresNonPending(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	txn := &models.Transaction{
		OrderID:       "done-1",
		ActorType:     models.ActorCustomer,
		ActorID:       1,
		Direction:     models.DirectionDebited,
		PaymentBy:     models.PaymentByGateway,
		Amount:        300,
		PaymentStatus: models.PaymentCompleted,
	}
	_, err := ts.ledger.RecordTransaction(ctx, txn)
	require.NoError(t, err)

	require.NoError(t, ts.ledger.DispatchRefund(ctx, "done-1"))
	assert.Empty(t, ts.gateway.refunded)
}

func TestBalanceServedFromCache(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache := repository.NewMemoryBalanceCache(time.Minute)
	ledger := NewLedgerService(db, cache, newFakeGateway(), nil, &logger)
	ctx := context.Background()

	_, err = ledger.CreditWallet(ctx, models.ActorPartner, 5, 700, models.WalletRefs{OrderID: "seed-cache-1"})
	require.NoError(t, err)

	// First read derives and caches, second read hits the cache.
	balance, err := ledger.Balance(ctx, models.ActorPartner, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance.Available())

	cached, err := cache.GetBalance(ctx, models.ActorPartner, 5)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, int64(700), cached.Available())

	// A debit invalidates the cached value.
	_, err = ledger.DebitWallet(ctx, models.ActorPartner, 5, 200, models.WalletRefs{OrderID: "seed-cache-2"})
	require.NoError(t, err)

	cached, err = cache.GetBalance(ctx, models.ActorPartner, 5)
	require.NoError(t, err)
	assert.Nil(t, cached)

	balance, err = ledger.Balance(ctx, models.ActorPartner, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.Available())
}

func TestReconcileBalances(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	ts.fund(t, models.ActorPartner, 10, 100)
	ts.fund(t, models.ActorCustomer, 1, 200)

	refreshed, err := ts.ledger.ReconcileBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
}
