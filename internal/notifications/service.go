// Package notifications records and requests the messages sent when an order
// is paid. Delivery itself happens downstream of the outbox.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/settings"
	dbpkg "github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
)

const defaultChannel = "email"

// Service requests payment notifications. Every call tolerates duplicates:
// a recipient already logged for the payment is never messaged again.
type Service interface {
	NotifySuppliers(ctx context.Context, orderID, paymentID uuid.UUID) (int, error)
	NotifyCustomerPaid(ctx context.Context, orderID, paymentID uuid.UUID) (int, error)
	CommsCostMinor(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the notification service.
type ServiceParams struct {
	Tx       txRunner
	Repo     Repository
	Outbox   outboxPublisher
	Settings settings.Provider
	Logger   *logger.Logger
}

type service struct {
	tx       txRunner
	repo     Repository
	outbox   outboxPublisher
	settings settings.Provider
	logg     *logger.Logger
}

// NewService builds a notification service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Settings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settings provider required")
	}
	return &service{
		tx:       params.Tx,
		repo:     params.Repo,
		outbox:   params.Outbox,
		settings: params.Settings,
		logg:     params.Logger,
	}, nil
}

type message struct {
	recipient string
	data      map[string]any
}

func (s *service) NotifySuppliers(ctx context.Context, orderID, paymentID uuid.UUID) (int, error) {
	recipients, err := s.repo.ListSupplierRecipients(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list supplier recipients")
	}
	messages := make([]message, 0, len(recipients))
	for _, r := range recipients {
		email := strings.TrimSpace(r.Email)
		if email == "" {
			s.warn(ctx, "supplier has no email; skipping", map[string]any{"supplier_id": r.SupplierID.String()})
			continue
		}
		messages = append(messages, message{
			recipient: email,
			data: map[string]any{
				"supplier_id":        r.SupplierID.String(),
				"purchase_order_id":  r.PurchaseOrderID.String(),
				"supplier_order_ref": r.Reference,
				"amount_minor":       r.AmountMinor,
			},
		})
	}
	return s.send(ctx, enums.NotificationSupplierOrder, orderID, paymentID, messages)
}

func (s *service) NotifyCustomerPaid(ctx context.Context, orderID, paymentID uuid.UUID) (int, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	email := strings.TrimSpace(order.CustomerEmail)
	if email == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order has no customer email")
	}
	msg := message{
		recipient: email,
		data: map[string]any{
			"total_minor": order.TotalMinor,
			"currency":    order.Currency,
		},
	}
	return s.send(ctx, enums.NotificationCustomerPaid, orderID, paymentID, []message{msg})
}

func (s *service) CommsCostMinor(ctx context.Context, orderID uuid.UUID) (int64, error) {
	total, err := s.repo.SumCost(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum notification cost")
	}
	return total, nil
}

// send logs and requests each message in its own transaction so one bad
// recipient does not hold back the others. It returns how many were newly
// requested.
func (s *service) send(ctx context.Context, kind enums.NotificationKind, orderID, paymentID uuid.UUID, messages []message) (int, error) {
	cost := s.settings.Current().CommsCostPerMessageMinor
	sent := 0
	for _, msg := range messages {
		created := false
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			created, err = s.record(ctx, tx, kind, orderID, paymentID, msg, cost)
			return err
		})
		if err != nil {
			return sent, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("request %s notification", kind))
		}
		if created {
			sent++
		}
	}
	s.info(ctx, "notifications requested", map[string]any{
		"kind":       kind,
		"order_id":   orderID.String(),
		"payment_id": paymentID.String(),
		"requested":  sent,
		"candidates": len(messages),
	})
	return sent, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, kind enums.NotificationKind, orderID, paymentID uuid.UUID, msg message, cost int64) (bool, error) {
	repo := s.repo.WithTx(tx)
	exists, err := repo.Exists(ctx, paymentID, kind, msg.recipient)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	entry := &models.NotificationLog{
		ID:        uuid.New(),
		OrderID:   orderID,
		PaymentID: paymentID,
		Kind:      kind,
		Recipient: msg.recipient,
		Channel:   defaultChannel,
		CostMinor: cost,
	}
	createErr := tx.Transaction(func(sp *gorm.DB) error {
		return s.repo.WithTx(sp).Create(ctx, entry)
	})
	if createErr != nil {
		if dbpkg.IsUniqueViolation(createErr, "") {
			return false, nil
		}
		return false, createErr
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		DedupeKey:     fmt.Sprintf("%s:%s:%s", kind, paymentID, msg.recipient),
		Data: payloads.NotificationRequestedEvent{
			Kind:      kind,
			OrderID:   orderID,
			PaymentID: paymentID,
			Recipient: msg.recipient,
			Data:      msg.data,
		},
		OccurredAt: time.Now().UTC(),
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) info(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

func (s *service) warn(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), msg)
}
