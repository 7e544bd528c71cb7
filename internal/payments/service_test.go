package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/dbtest"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
)

type fixture struct {
	conn *gorm.DB
	svc  Service
	now  time.Time
}

func newFixture(t *testing.T, mutate func(*ServiceParams)) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{conn: conn, now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	params := ServiceParams{
		Tx:        db.Wrap(conn),
		Repo:      NewRepository(conn),
		Outbox:    outbox.NewService(outbox.NewRepository(conn), nil),
		IntentTTL: 30 * time.Minute,
		Currency:  "NGN",
		Now:       func() time.Time { return f.now },
	}
	if mutate != nil {
		mutate(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seedOrder(t *testing.T, total int64) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		CustomerEmail: "buyer@example.com",
		Currency:      "NGN",
		TotalMinor:    total,
		Status:        enums.OrderStatusPending,
	}
	require.NoError(t, f.conn.Create(order).Error)
	return order
}

func (f *fixture) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestCreateIntentValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateIntent(ctx, uuid.Nil, enums.PaymentChannelCard)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	zero := f.seedOrder(t, 0)
	_, err = f.svc.CreateIntent(ctx, zero.ID, enums.PaymentChannelCard)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateIntent(ctx, uuid.New(), enums.PaymentChannelCard)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCreateIntentResumesFreshPendingIntent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder(t, 5000)

	first, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelCard)
	require.NoError(t, err)
	assert.False(t, first.Resumed)
	assert.Equal(t, int64(5000), first.Intent.AmountMinor)
	assert.Regexp(t, `^PAY-260110-[0-9A-Z]{8}$`, first.Intent.Reference)

	again, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelCard)
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.Intent.ID, again.Intent.ID)
}

func TestCreateIntentSupersedesStaleAndOtherChannel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder(t, 5000)

	card, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelCard)
	require.NoError(t, err)

	transfer, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelBankTransfer)
	require.NoError(t, err)
	assert.NotEqual(t, card.Intent.ID, transfer.Intent.ID)

	old, err := f.svc.Get(ctx, card.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCanceled, old.Status)

	f.now = f.now.Add(time.Hour)
	fresh, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelBankTransfer)
	require.NoError(t, err)
	assert.False(t, fresh.Resumed, "expired intent is not resumed")
	assert.NotEqual(t, transfer.Intent.ID, fresh.Intent.ID)
}

func TestMarkPaidIsIdempotentAndCancelsSiblings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder(t, 5000)

	// two live intents on different channels: insert the sibling directly
	res, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelCard)
	require.NoError(t, err)
	sibling := &models.PaymentIntent{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Reference:   "PAY-260110-SIBLING1",
		AmountMinor: 5000,
		Status:      enums.PaymentStatusPending,
		Channel:     enums.PaymentChannelUSSD,
		ExpiresAt:   f.now.Add(time.Hour),
	}
	require.NoError(t, f.conn.Create(sibling).Error)

	fee := int64(175)
	input := MarkPaidInput{
		Reference:   res.Intent.Reference,
		AmountMinor: 5000,
		FeeMinor:    &fee,
		PaidAt:      f.now,
		Payload:     []byte(`{"status":"success"}`),
		Source:      SourcePush,
	}
	first, err := f.svc.MarkPaid(ctx, input)
	require.NoError(t, err)
	assert.True(t, first.Transitioned)
	assert.Equal(t, enums.PaymentStatusPaid, first.Intent.Status)
	require.NotNil(t, first.Intent.FeeMinor)
	assert.Equal(t, int64(175), *first.Intent.FeeMinor)

	second, err := f.svc.MarkPaid(ctx, input)
	require.NoError(t, err)
	assert.False(t, second.Transitioned)
	assert.Equal(t, first.Intent.ID, second.Intent.ID)

	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventPaymentPaid))

	var paid int64
	require.NoError(t, f.conn.Model(&models.PaymentIntent{}).
		Where("order_id = ? AND status = ?", order.ID, enums.PaymentStatusPaid).Count(&paid).Error)
	assert.Equal(t, int64(1), paid)

	reloaded, err := f.svc.Get(ctx, sibling.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCanceled, reloaded.Status)

	_, err = f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelCard)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestMarkPaidOnCanceledIntentIsLateSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder(t, 5000)

	card, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelCard)
	require.NoError(t, err)
	_, err = f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelUSSD)
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(ctx, MarkPaidInput{Reference: card.Intent.Reference, AmountMinor: 5000})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.MarkPaid(ctx, MarkPaidInput{Reference: card.Intent.Reference, AmountMinor: 5000})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	intent, err := f.svc.Get(ctx, card.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCanceled, intent.Status)
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventPaymentLateSuccess))
	assert.Equal(t, int64(0), f.outboxCount(t, enums.EventPaymentPaid))
}

func TestMarkPaidUnknownReference(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.MarkPaid(context.Background(), MarkPaidInput{Reference: "PAY-000000-NOPE"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMarkFailedOnlyFromPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder(t, 5000)
	res, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelCard)
	require.NoError(t, err)

	failed, err := f.svc.MarkFailed(ctx, res.Intent.Reference, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, failed.Status)

	again, err := f.svc.MarkFailed(ctx, res.Intent.Reference, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, again.Status)
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventPaymentFailed))
}

func TestExpireStaleCancelsLapsedIntents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder(t, 5000)
	res, err := f.svc.CreateIntent(ctx, order.ID, enums.PaymentChannelCard)
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(31 * time.Minute)
	n, err = f.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	intent, err := f.svc.Get(ctx, res.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCanceled, intent.Status)
	require.NotNil(t, intent.FailureReason)
	assert.Equal(t, ReasonExpired, *intent.FailureReason)
}

type stubCharger struct {
	calls []gateway.ChargeRequest
}

func (s *stubCharger) InitializeCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeSession, error) {
	s.calls = append(s.calls, req)
	return &gateway.ChargeSession{AuthorizationURL: "https://checkout.test/" + req.Reference, Reference: req.Reference}, nil
}

type stubPlanner struct {
	plan *gateway.SplitPlan
	err  error
}

func (s stubPlanner) BuildSplitPlan(context.Context, uuid.UUID) (*gateway.SplitPlan, error) {
	return s.plan, s.err
}

func TestInitializeCheckoutStoresSessionAndResumes(t *testing.T) {
	charger := &stubCharger{}
	plan := &gateway.SplitPlan{Type: "flat", BearerType: "account", Subaccounts: []gateway.SplitShare{{Subaccount: "ACCT_1", Share: 3000}}}
	f := newFixture(t, func(p *ServiceParams) {
		p.Charger = charger
		p.Splits = stubPlanner{plan: plan}
		p.SplitEnabled = func() bool { return true }
	})
	ctx := context.Background()
	order := f.seedOrder(t, 5000)

	session, err := f.svc.InitializeCheckout(ctx, CheckoutInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.True(t, session.SplitApplied)
	assert.Equal(t, "https://checkout.test/"+session.Intent.Reference, session.AuthorizationURL)
	require.Len(t, charger.calls, 1)
	assert.Equal(t, "buyer@example.com", charger.calls[0].Email)
	assert.Equal(t, plan, charger.calls[0].Split)

	stored, err := f.svc.Get(ctx, session.Intent.ID)
	require.NoError(t, err)
	assert.True(t, stored.SplitApplied)
	assert.JSONEq(t, `{"type":"flat","bearer_type":"account","subaccounts":[{"subaccount":"ACCT_1","share":3000}]}`, string(stored.SplitPlan))

	resumed, err := f.svc.InitializeCheckout(ctx, CheckoutInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, session.AuthorizationURL, resumed.AuthorizationURL)
	assert.Len(t, charger.calls, 1)
}

func TestInitializeCheckoutStoresWithheldSplitPlan(t *testing.T) {
	charger := &stubCharger{}
	plan := &gateway.SplitPlan{Type: "flat", BearerType: "account", Subaccounts: []gateway.SplitShare{{Subaccount: "ACCT_1", Share: 3000}}}
	f := newFixture(t, func(p *ServiceParams) {
		p.Charger = charger
		p.Splits = stubPlanner{plan: plan}
	})
	ctx := context.Background()
	order := f.seedOrder(t, 5000)

	session, err := f.svc.InitializeCheckout(ctx, CheckoutInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.False(t, session.SplitApplied)
	require.Len(t, charger.calls, 1)
	assert.Nil(t, charger.calls[0].Split)

	stored, err := f.svc.Get(ctx, session.Intent.ID)
	require.NoError(t, err)
	assert.False(t, stored.SplitApplied)
	assert.JSONEq(t, `{"type":"flat","bearer_type":"account","subaccounts":[{"subaccount":"ACCT_1","share":3000}]}`, string(stored.SplitPlan))
}

func TestInitializeCheckoutSplitPlanFailure(t *testing.T) {
	enabled := false
	charger := &stubCharger{}
	f := newFixture(t, func(p *ServiceParams) {
		p.Charger = charger
		p.Splits = stubPlanner{err: errors.New("supplier lookup failed")}
		p.SplitEnabled = func() bool { return enabled }
	})
	ctx := context.Background()

	session, err := f.svc.InitializeCheckout(ctx, CheckoutInput{OrderID: f.seedOrder(t, 5000).ID})
	require.NoError(t, err, "a withheld plan never blocks checkout")
	assert.False(t, session.SplitApplied)
	assert.Empty(t, session.Intent.SplitPlan)

	enabled = true
	_, err = f.svc.InitializeCheckout(ctx, CheckoutInput{OrderID: f.seedOrder(t, 5000).ID})
	require.Error(t, err)
	assert.Len(t, charger.calls, 1)
}
