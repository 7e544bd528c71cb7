package finalization

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/allocations"
	"github.com/doncapon/yemisshop-sub004/internal/ledger"
	"github.com/doncapon/yemisshop-sub004/internal/notifications"
	"github.com/doncapon/yemisshop-sub004/internal/payouts"
	"github.com/doncapon/yemisshop-sub004/internal/profit"
	"github.com/doncapon/yemisshop-sub004/internal/purchaseorders"
	"github.com/doncapon/yemisshop-sub004/internal/receipts"
	"github.com/doncapon/yemisshop-sub004/internal/settings"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/dbtest"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/metrics"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
)

type sandboxGateway struct{}

func (sandboxGateway) Sandbox() bool { return true }

func (sandboxGateway) CreateTransferRecipient(context.Context, gateway.RecipientRequest) (string, error) {
	return "", errors.New("sandbox never creates recipients")
}

func (sandboxGateway) InitiateTransfer(context.Context, gateway.TransferRequest) (*gateway.Transfer, error) {
	return nil, errors.New("sandbox never transfers")
}

type flakyReceipts struct {
	mu       sync.Mutex
	failures int
	next     ReceiptIssuer
}

func (f *flakyReceipts) IssueOnce(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, bool, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, false, errors.New("pdf renderer unavailable")
	}
	f.mu.Unlock()
	return f.next.IssueOnce(ctx, paymentID)
}

type flakyAllocations struct {
	mu       sync.Mutex
	failures int
	next     AllocationRecorder
}

func (f *flakyAllocations) Record(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, pos []models.PurchaseOrder) ([]models.SupplierPaymentAllocation, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("allocation ledger unavailable")
	}
	f.mu.Unlock()
	return f.next.Record(ctx, tx, paymentID, pos)
}

type fixture struct {
	conn        *gorm.DB
	svc         *Service
	reg         *prometheus.Registry
	receipts    *flakyReceipts
	allocations *flakyAllocations
	orderID     uuid.UUID
	paymentID   uuid.UUID
	siblingID   uuid.UUID
	paidAt      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	tx := db.Wrap(conn)
	ob := outbox.NewService(outbox.NewRepository(conn), nil)
	snap := settings.Static{BaseFeeMinor: 50, CommsCostPerMessageMinor: 5, ProfitMode: enums.ProfitModeAccurate}

	fanOut, err := purchaseorders.NewService(purchaseorders.NewRepository(conn), nil, 0)
	require.NoError(t, err)
	allocs, err := allocations.NewService(allocations.ServiceParams{
		Tx:         tx,
		Repo:       allocations.NewRepository(conn),
		LedgerRepo: ledger.NewRepository(conn),
	})
	require.NoError(t, err)
	notifier, err := notifications.NewService(notifications.ServiceParams{
		Tx:       tx,
		Repo:     notifications.NewRepository(conn),
		Outbox:   ob,
		Settings: snap,
	})
	require.NoError(t, err)
	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Tx:       tx,
		Repo:     payouts.NewRepository(conn),
		Gateway:  sandboxGateway{},
		Outbox:   ob,
		Currency: "NGN",
	})
	require.NoError(t, err)
	receiptSvc, err := receipts.NewService(receipts.ServiceParams{Tx: tx, Repo: receipts.NewRepository(conn)})
	require.NoError(t, err)
	profitSvc, err := profit.NewService(profit.ServiceParams{
		Tx:       tx,
		Repo:     profit.NewRepository(conn),
		Outbox:   ob,
		Comms:    notifier,
		Settings: snap,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	flaky := &flakyReceipts{next: receiptSvc}
	flakyAllocs := &flakyAllocations{next: allocs}
	svc, err := NewService(ServiceParams{
		Tx:          tx,
		Store:       NewStore(conn),
		FanOut:      fanOut,
		Allocations: flakyAllocs,
		Notifier:    notifier,
		Payouts:     payoutSvc,
		Receipts:    flaky,
		Profit:      profitSvc,
		Metrics:     metrics.NewFinalizationMetrics(reg),
	})
	require.NoError(t, err)

	f := &fixture{
		conn:        conn,
		svc:         svc,
		reg:         reg,
		receipts:    flaky,
		allocations: flakyAllocs,
		paidAt:      time.Now().UTC().Add(-time.Minute),
	}
	f.seed(t)
	return f
}

func int64Ptr(v int64) *int64 { return &v }

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	alpha := models.Supplier{ID: uuid.New(), Name: "Alpha", Email: "alpha@example.com"}
	beta := models.Supplier{ID: uuid.New(), Name: "Beta", Email: "beta@example.com"}
	require.NoError(t, f.conn.Create(&[]models.Supplier{alpha, beta}).Error)

	order := models.Order{
		ID: uuid.New(), CustomerID: uuid.New(), CustomerEmail: "buyer@example.com", Currency: "NGN",
		TotalMinor: 3000, ServiceFeeTotalMinor: 300, Status: enums.OrderStatusPending,
	}
	require.NoError(t, f.conn.Create(&order).Error)
	items := []models.OrderItem{
		{ID: uuid.New(), OrderID: order.ID, ProductID: uuid.New(), Title: "Yam tuber", UnitPriceMinor: 1200, Quantity: 1,
			ChosenSupplierID: &alpha.ID, ChosenSupplierUnitPriceMinor: int64Ptr(1000)},
		{ID: uuid.New(), OrderID: order.ID, ProductID: uuid.New(), Title: "Garri 2kg", UnitPriceMinor: 1800, Quantity: 1,
			ChosenSupplierID: &beta.ID, ChosenSupplierUnitPriceMinor: int64Ptr(1500)},
	}
	require.NoError(t, f.conn.Create(&items).Error)

	paid := models.PaymentIntent{
		ID: uuid.New(), OrderID: order.ID, Reference: "PAY-260110-PAID0000", AmountMinor: 3000, FeeMinor: int64Ptr(45),
		Status: enums.PaymentStatusPaid, Channel: enums.PaymentChannelCard, ExpiresAt: f.paidAt.Add(time.Hour), PaidAt: &f.paidAt,
	}
	sibling := models.PaymentIntent{
		ID: uuid.New(), OrderID: order.ID, Reference: "PAY-260110-SIBLING0", AmountMinor: 3000,
		Status: enums.PaymentStatusPending, Channel: enums.PaymentChannelBankTransfer, ExpiresAt: f.paidAt.Add(time.Hour),
	}
	require.NoError(t, f.conn.Create(&[]models.PaymentIntent{paid, sibling}).Error)

	f.orderID = order.ID
	f.paymentID = paid.ID
	f.siblingID = sibling.ID
}

func (f *fixture) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := f.conn.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func TestFinalizeRunsCoreAndEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Finalize(ctx, f.paymentID)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.True(t, res.CoreRan)
	assert.Empty(t, res.Failed())
	assert.Equal(t, metrics.OutcomeRan, res.Outcome(EffectPayouts))

	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", f.orderID).Error)
	assert.Equal(t, enums.OrderStatusAwaitingFulfillment, order.Status)
	require.NotNil(t, order.PaidAt)

	var sibling models.PaymentIntent
	require.NoError(t, f.conn.First(&sibling, "id = ?", f.siblingID).Error)
	assert.Equal(t, enums.PaymentStatusCanceled, sibling.Status)

	var fee models.OrderServiceFee
	require.NoError(t, f.conn.First(&fee, "payment_id = ?", f.paymentID).Error)
	assert.EqualValues(t, 300, fee.AmountMinor)

	var pos []models.PurchaseOrder
	require.NoError(t, f.conn.Order("supplier_amount_minor").Find(&pos, "order_id = ?", f.orderID).Error)
	require.Len(t, pos, 2)
	assert.EqualValues(t, 1000, pos[0].SupplierAmountMinor)
	assert.EqualValues(t, 1500, pos[1].SupplierAmountMinor)

	var allocs []models.SupplierPaymentAllocation
	require.NoError(t, f.conn.Order("amount_minor").Find(&allocs, "payment_id = ?", f.paymentID).Error)
	require.Len(t, allocs, 2)
	var sum int64
	for i, allocation := range allocs {
		assert.Equal(t, pos[i].SupplierAmountMinor, allocation.AmountMinor)
		assert.Equal(t, enums.AllocationStatusHeld, allocation.Status)
		sum += allocation.AmountMinor
	}
	assert.LessOrEqual(t, sum, int64(3000))

	var events []models.FinalizationEvent
	require.NoError(t, f.conn.Find(&events, "payment_intent_id = ?", f.paymentID).Error)
	types := map[enums.FinalizationEventType]bool{}
	for _, event := range events {
		types[event.Type] = true
	}
	assert.Len(t, events, 6)
	assert.True(t, types[enums.FinalizationFinalizePaid])
	assert.True(t, types[enums.FinalizationPayoutsSkipped], "sandbox always skips payouts")
	assert.False(t, types[enums.FinalizationPayoutsDispatched])

	assert.EqualValues(t, 1, f.count(t, &models.Receipt{}, "payment_id = ?", f.paymentID))
	assert.EqualValues(t, 3, f.count(t, &models.NotificationLog{}, "payment_id = ?", f.paymentID))

	var breakdown models.ProfitBreakdown
	require.NoError(t, f.conn.First(&breakdown, "payment_id = ?", f.paymentID).Error)
	// 3000 - (2500 cogs + 45 fee + 2x5 supplier messages + 50 base)
	assert.EqualValues(t, 395, breakdown.ProfitMinor)

	series, err := testutil.GatherAndCount(f.reg, "finalization_effect_total")
	require.NoError(t, err)
	assert.Equal(t, 6, series)
}

func TestFinalizeTwiceCreatesNoDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Finalize(ctx, f.paymentID)
	require.NoError(t, err)
	res, err := f.svc.Finalize(ctx, f.paymentID)
	require.NoError(t, err)
	assert.False(t, res.CoreRan)
	for _, effect := range res.Effects {
		assert.Equal(t, metrics.OutcomeSkipped, effect.Outcome, effect.Name)
	}

	assert.EqualValues(t, 6, f.count(t, &models.FinalizationEvent{}, "payment_intent_id = ?", f.paymentID))
	assert.EqualValues(t, 2, f.count(t, &models.PurchaseOrder{}, "order_id = ?", f.orderID))
	assert.EqualValues(t, 2, f.count(t, &models.SupplierPaymentAllocation{}, "payment_id = ?", f.paymentID))
	assert.EqualValues(t, 1, f.count(t, &models.OrderServiceFee{}, "payment_id = ?", f.paymentID))
	assert.EqualValues(t, 3, f.count(t, &models.NotificationLog{}, ""))
}

func TestFinalizeSkipsUnpaidIntent(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Finalize(context.Background(), f.siblingID)
	require.NoError(t, err)
	assert.False(t, res.CoreRan)
	assert.Equal(t, enums.PaymentStatusPending, res.Status)
	assert.Zero(t, f.count(t, &models.FinalizationEvent{}, ""))
	assert.Zero(t, f.count(t, &models.PurchaseOrder{}, ""))

	_, err = f.svc.Finalize(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFailedCoreRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.allocations.failures = 1
	ctx := context.Background()

	_, err := f.svc.Finalize(ctx, f.paymentID)
	require.Error(t, err)

	assert.Zero(t, f.count(t, &models.PurchaseOrder{}, "order_id = ?", f.orderID))
	assert.Zero(t, f.count(t, &models.OrderServiceFee{}, "payment_id = ?", f.paymentID))
	assert.Zero(t, f.count(t, &models.SupplierPaymentAllocation{}, "payment_id = ?", f.paymentID))
	assert.Zero(t, f.count(t, &models.FinalizationEvent{}, "payment_intent_id = ?", f.paymentID))

	var sibling models.PaymentIntent
	require.NoError(t, f.conn.First(&sibling, "id = ?", f.siblingID).Error)
	assert.Equal(t, enums.PaymentStatusPending, sibling.Status)

	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", f.orderID).Error)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Nil(t, order.PaidAt)

	res, err := f.svc.Finalize(ctx, f.paymentID)
	require.NoError(t, err)
	assert.True(t, res.CoreRan)
	assert.EqualValues(t, 2, f.count(t, &models.PurchaseOrder{}, "order_id = ?", f.orderID))
	assert.EqualValues(t, 2, f.count(t, &models.SupplierPaymentAllocation{}, "payment_id = ?", f.paymentID))
	assert.EqualValues(t, 1, f.count(t, &models.FinalizationEvent{}, "payment_intent_id = ? AND type = ?", f.paymentID, enums.FinalizationFinalizePaid))
}

func TestFailedEffectIsRetriedByLaterFinalize(t *testing.T) {
	f := newFixture(t)
	f.receipts.failures = 1
	ctx := context.Background()

	res, err := f.svc.Finalize(ctx, f.paymentID)
	require.NoError(t, err, "effect failures never fail the core")
	require.Error(t, res.Err)
	assert.Equal(t, []string{EffectReceipt}, res.Failed())
	assert.Equal(t, metrics.OutcomeRan, res.Outcome(EffectProfit), "later effects still run")
	assert.Equal(t, metrics.OutcomeRan, res.Outcome(EffectNotifyCustomer))
	assert.Zero(t, f.count(t, &models.FinalizationEvent{}, "type = ?", enums.FinalizationReceiptIssued))

	res, err = f.svc.Finalize(ctx, f.paymentID)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, metrics.OutcomeRan, res.Outcome(EffectReceipt))
	assert.Equal(t, metrics.OutcomeSkipped, res.Outcome(EffectProfit))
	assert.EqualValues(t, 1, f.count(t, &models.Receipt{}, ""))
}

func TestFinalizeNeverRegressesPaidAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Finalize(ctx, f.paymentID)
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.SupplierPaymentAllocation{}).
		Where("payment_id = ?", f.paymentID).
		Update("status", enums.AllocationStatusPaid).Error)
	// drop the marker so the core runs again over existing rows
	require.NoError(t, f.conn.Where("payment_intent_id = ? AND type = ?", f.paymentID, enums.FinalizationFinalizePaid).
		Delete(&models.FinalizationEvent{}).Error)

	res, err := f.svc.Finalize(ctx, f.paymentID)
	require.NoError(t, err)
	assert.True(t, res.CoreRan)
	assert.EqualValues(t, 2, f.count(t, &models.SupplierPaymentAllocation{}, "payment_id = ? AND status = ?", f.paymentID, enums.AllocationStatusPaid))
	assert.EqualValues(t, 2, f.count(t, &models.PurchaseOrder{}, "order_id = ?", f.orderID))
}

func TestConcurrentFinalizeRunsCoreOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 2
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		coreRan int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Finalize(ctx, f.paymentID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.CoreRan {
				coreRan++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, coreRan)
	assert.EqualValues(t, 1, f.count(t, &models.FinalizationEvent{}, "payment_intent_id = ? AND type = ?", f.paymentID, enums.FinalizationFinalizePaid))
	assert.EqualValues(t, 2, f.count(t, &models.PurchaseOrder{}, "order_id = ?", f.orderID))
	assert.EqualValues(t, 2, f.count(t, &models.SupplierPaymentAllocation{}, "payment_id = ?", f.paymentID))
	assert.EqualValues(t, 1, f.count(t, &models.Receipt{}, ""))
	assert.EqualValues(t, 3, f.count(t, &models.NotificationLog{}, ""))
}

func TestSweepFinalizesPaymentsMissingMarkers(t *testing.T) {
	f := newFixture(t)
	f.receipts.failures = 1
	ctx := context.Background()
	since := f.paidAt.Add(-time.Hour)

	ids, err := f.svc.store.ListPaidMissingEvents(ctx, since, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.paymentID}, ids)

	res, err := f.svc.Sweep(ctx, since, 10)
	require.Error(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Failed: 1}, res)

	res, err = f.svc.Sweep(ctx, since, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Finalized: 1}, res)

	ids, err = f.svc.store.ListPaidMissingEvents(ctx, since, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
