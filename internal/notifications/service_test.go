package notifications

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/settings"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/dbtest"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
)

type fixture struct {
	conn    *gorm.DB
	svc     Service
	orderID uuid.UUID
	payment uuid.UUID
}

func newFixture(t *testing.T, costPerMessage int64) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		Tx:       db.Wrap(conn),
		Repo:     NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		Settings: settings.Static{CommsCostPerMessageMinor: costPerMessage},
	})
	require.NoError(t, err)

	order := models.Order{ID: uuid.New(), CustomerID: uuid.New(), CustomerEmail: "buyer@example.com", Currency: "NGN", TotalMinor: 3000}
	require.NoError(t, conn.Create(&order).Error)

	suppliers := []models.Supplier{
		{ID: uuid.New(), Name: "Alpha", Email: "alpha@example.com"},
		{ID: uuid.New(), Name: "Beta", Email: "beta@example.com"},
		{ID: uuid.New(), Name: "Gamma", Email: "gamma@example.com"},
	}
	require.NoError(t, conn.Create(&suppliers).Error)

	pos := []models.PurchaseOrder{
		{ID: uuid.New(), OrderID: order.ID, SupplierID: suppliers[0].ID, SupplierOrderRef: "PO-260110-AAAAAAAA",
			SubtotalMinor: 1200, SupplierAmountMinor: 1000, Status: enums.PurchaseOrderStatusFunded},
		{ID: uuid.New(), OrderID: order.ID, SupplierID: suppliers[1].ID, SupplierOrderRef: "PO-260110-BBBBBBBB",
			SubtotalMinor: 1800, SupplierAmountMinor: 1500, Status: enums.PurchaseOrderStatusFunded},
		{ID: uuid.New(), OrderID: order.ID, SupplierID: suppliers[2].ID, SupplierOrderRef: "PO-260110-CCCCCCCC",
			SubtotalMinor: 500, SupplierAmountMinor: 400, Status: enums.PurchaseOrderStatusCanceled},
	}
	require.NoError(t, conn.Create(&pos).Error)

	return &fixture{conn: conn, svc: svc, orderID: order.ID, payment: uuid.New()}
}

func (f *fixture) countOutbox(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventNotificationRequested).Count(&count).Error)
	return count
}

func TestNotifySuppliersSkipsCanceledPurchaseOrders(t *testing.T) {
	f := newFixture(t, 0)

	sent, err := f.svc.NotifySuppliers(context.Background(), f.orderID, f.payment)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	var logs []models.NotificationLog
	require.NoError(t, f.conn.Order("recipient").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, "alpha@example.com", logs[0].Recipient)
	assert.Equal(t, "beta@example.com", logs[1].Recipient)
	assert.Equal(t, enums.NotificationSupplierOrder, logs[0].Kind)
	assert.EqualValues(t, 2, f.countOutbox(t))
}

func TestNotifySuppliersToleratesDuplicateCalls(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.NotifySuppliers(ctx, f.orderID, f.payment)
	require.NoError(t, err)
	sent, err := f.svc.NotifySuppliers(ctx, f.orderID, f.payment)
	require.NoError(t, err)
	assert.Zero(t, sent)

	var count int64
	require.NoError(t, f.conn.Model(&models.NotificationLog{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
	assert.EqualValues(t, 2, f.countOutbox(t))
}

func TestNotifyCustomerPaidOnce(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	sent, err := f.svc.NotifyCustomerPaid(ctx, f.orderID, f.payment)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = f.svc.NotifyCustomerPaid(ctx, f.orderID, f.payment)
	require.NoError(t, err)
	assert.Zero(t, sent)

	var logs []models.NotificationLog
	require.NoError(t, f.conn.Where("kind = ?", enums.NotificationCustomerPaid).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "buyer@example.com", logs[0].Recipient)
}

func TestNotifyCustomerPaidUnknownOrder(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.NotifyCustomerPaid(context.Background(), uuid.New(), f.payment)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCommsCostSumsLoggedMessages(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()

	_, err := f.svc.NotifySuppliers(ctx, f.orderID, f.payment)
	require.NoError(t, err)
	_, err = f.svc.NotifyCustomerPaid(ctx, f.orderID, f.payment)
	require.NoError(t, err)

	cost, err := f.svc.CommsCostMinor(ctx, f.orderID)
	require.NoError(t, err)
	assert.EqualValues(t, 60, cost)

	other, err := f.svc.CommsCostMinor(ctx, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
