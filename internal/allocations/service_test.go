package allocations

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/ledger"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/dbtest"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
)

type fixture struct {
	conn    *gorm.DB
	svc     *Service
	payment models.PaymentIntent
	pos     []models.PurchaseOrder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		Tx:         db.Wrap(conn),
		Repo:       NewRepository(conn),
		LedgerRepo: ledger.NewRepository(conn),
		Now:        func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	orderID := uuid.New()
	payment := models.PaymentIntent{
		ID:          uuid.New(),
		OrderID:     orderID,
		Reference:   "PAY-260110-ALLOC000",
		AmountMinor: 3000,
		Status:      enums.PaymentStatusPaid,
		Channel:     enums.PaymentChannelCard,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, conn.Create(&payment).Error)

	pos := []models.PurchaseOrder{
		{ID: uuid.New(), OrderID: orderID, SupplierID: uuid.New(), SupplierOrderRef: "PO-260110-AAAAAAAA",
			SubtotalMinor: 1200, SupplierAmountMinor: 1000, PlatformFeeMinor: 200, Status: enums.PurchaseOrderStatusCreated},
		{ID: uuid.New(), OrderID: orderID, SupplierID: uuid.New(), SupplierOrderRef: "PO-260110-BBBBBBBB",
			SubtotalMinor: 1800, SupplierAmountMinor: 1500, PlatformFeeMinor: 300, Status: enums.PurchaseOrderStatusCreated},
	}
	require.NoError(t, conn.Create(&pos).Error)
	return &fixture{conn: conn, svc: svc, payment: payment, pos: pos}
}

func (f *fixture) record(t *testing.T) []models.SupplierPaymentAllocation {
	t.Helper()
	var out []models.SupplierPaymentAllocation
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = f.svc.Record(context.Background(), tx, f.payment.ID, f.pos)
		return err
	}))
	return out
}

func TestRecordCreatesHeldAllocationsMatchingPurchaseOrders(t *testing.T) {
	f := newFixture(t)
	allocations := f.record(t)
	require.Len(t, allocations, 2)

	var sum int64
	for i, allocation := range allocations {
		assert.Equal(t, enums.AllocationStatusHeld, allocation.Status)
		assert.Equal(t, f.pos[i].SupplierAmountMinor, allocation.AmountMinor)
		sum += allocation.AmountMinor
	}
	assert.LessOrEqual(t, sum, int64(3000))

	var funded int64
	require.NoError(t, f.conn.Model(&models.PurchaseOrder{}).Where("status = ?", enums.PurchaseOrderStatusFunded).Count(&funded).Error)
	assert.Equal(t, int64(2), funded)

	var intent models.PaymentIntent
	require.NoError(t, f.conn.First(&intent, "id = ?", f.payment.ID).Error)
	var breakdown []BreakdownEntry
	require.NoError(t, json.Unmarshal(intent.SupplierBreakdown, &breakdown))
	require.Len(t, breakdown, 2)
	assert.Equal(t, "PO-260110-AAAAAAAA", breakdown[0].SupplierOrderRef)
	assert.Equal(t, int64(1000), breakdown[0].AmountMinor)
}

func TestRecordNeverRegressesPaidAllocation(t *testing.T) {
	f := newFixture(t)
	first := f.record(t)

	res, err := f.svc.ForceMarkPaid(context.Background(), ForceMarkPaidInput{AllocationID: first[0].ID})
	require.NoError(t, err)
	assert.False(t, res.AlreadyPaid)

	again := f.record(t)
	require.Len(t, again, 2)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, enums.AllocationStatusPaid, again[0].Status)

	var count int64
	require.NoError(t, f.conn.Model(&models.SupplierPaymentAllocation{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var po models.PurchaseOrder
	require.NoError(t, f.conn.First(&po, "id = ?", f.pos[0].ID).Error)
	assert.Equal(t, enums.PurchaseOrderStatusPaidOut, po.Status, "paid out is not regressed to funded")
}

func TestForceMarkPaidWritesCreditOnce(t *testing.T) {
	f := newFixture(t)
	allocations := f.record(t)
	ctx := context.Background()

	input := ForceMarkPaidInput{AllocationID: allocations[1].ID, WriteCredit: true, Note: "paid by bank transfer", Actor: "ops"}
	first, err := f.svc.ForceMarkPaid(ctx, input)
	require.NoError(t, err)
	assert.True(t, first.CreditWritten)
	require.NotNil(t, first.LedgerEntry)
	assert.Equal(t, int64(1500), first.LedgerEntry.AmountMinor)

	second, err := f.svc.ForceMarkPaid(ctx, input)
	require.NoError(t, err)
	assert.True(t, second.AlreadyPaid)
	assert.False(t, second.CreditWritten)

	var entries int64
	require.NoError(t, f.conn.Model(&models.SupplierLedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestForceMarkPaidRejectsReversedAndUnknown(t *testing.T) {
	f := newFixture(t)
	allocations := f.record(t)
	ctx := context.Background()

	require.NoError(t, f.conn.Model(&models.SupplierPaymentAllocation{}).
		Where("id = ?", allocations[0].ID).
		Update("status", enums.AllocationStatusReversed).Error)

	_, err := f.svc.ForceMarkPaid(ctx, ForceMarkPaidInput{AllocationID: allocations[0].ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.ForceMarkPaid(ctx, ForceMarkPaidInput{AllocationID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
