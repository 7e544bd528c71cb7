// Package receipts issues the customer receipt for a paid intent, once.
package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/references"
	dbpkg "github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type referenceMinter interface {
	Mint(ctx context.Context, prefix string, attempts int, exists references.ExistsFunc) (string, error)
}

// Snapshot is the frozen content of a receipt.
type Snapshot struct {
	Number          string         `json:"number"`
	PaymentID       uuid.UUID      `json:"payment_id"`
	Reference       string         `json:"reference"`
	OrderID         uuid.UUID      `json:"order_id"`
	CustomerEmail   string         `json:"customer_email"`
	Currency        string         `json:"currency"`
	Channel         string         `json:"channel"`
	AmountPaidMinor int64          `json:"amount_paid_minor"`
	OrderTotalMinor int64          `json:"order_total_minor"`
	ServiceFeeMinor int64          `json:"service_fee_minor"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	IssuedAt        time.Time      `json:"issued_at"`
	Lines           []SnapshotLine `json:"lines"`
}

// SnapshotLine is one order line printed on the receipt.
type SnapshotLine struct {
	Title          string `json:"title"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	TotalMinor     int64  `json:"total_minor"`
}

// ServiceParams wires the receipt service.
type ServiceParams struct {
	Tx         txRunner
	Repo       Repository
	References referenceMinter
	Attempts   int
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service issues receipts.
type Service struct {
	tx       txRunner
	repo     Repository
	refs     referenceMinter
	attempts int
	logg     *logger.Logger
	now      func() time.Time
}

// NewService validates params and builds the receipt service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "receipt repository required")
	}
	attempts := params.Attempts
	if attempts <= 0 {
		attempts = references.DefaultAttempts
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	refs := params.References
	if refs == nil {
		refs = references.NewGenerator(references.WithClock(now))
	}
	return &Service{
		tx:       params.Tx,
		repo:     params.Repo,
		refs:     refs,
		attempts: attempts,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// IssueOnce returns the payment's receipt, creating it on first call. The
// bool reports whether this call created it.
func (s *Service) IssueOnce(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, bool, error) {
	existing, err := s.repo.FindByPayment(ctx, paymentID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load receipt")
	}
	if existing != nil {
		return existing, false, nil
	}

	var (
		receipt *models.Receipt
		created bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		receipt, created, err = s.issue(ctx, tx, paymentID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created && s.logg != nil {
		logCtx := s.logg.WithPaymentID(ctx, paymentID.String())
		s.logg.Info(s.logg.WithField(logCtx, "receipt_number", receipt.Number), "receipt issued")
	}
	return receipt, created, nil
}

func (s *Service) issue(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) (*models.Receipt, bool, error) {
	repo := s.repo.WithTx(tx)
	intent, err := repo.FindIntent(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if intent.Status != enums.PaymentStatusPaid {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "receipts are only issued for paid payments").
			WithDetails(map[string]any{"status": intent.Status})
	}
	order, err := repo.FindOrder(ctx, intent.OrderID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	items, err := repo.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order items")
	}
	fee, err := repo.FindServiceFee(ctx, paymentID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load service fee")
	}

	number, err := s.refs.Mint(ctx, references.PrefixReceipt, s.attempts, repo.NumberExists)
	if err != nil {
		return nil, false, err
	}
	issuedAt := s.now().UTC()
	snapshot := BuildSnapshot(number, intent, order, items, fee, issuedAt)
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode receipt snapshot")
	}
	receipt := &models.Receipt{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Number:    number,
		Snapshot:  datatypes.JSON(raw),
		IssuedAt:  issuedAt,
	}
	createErr := tx.Transaction(func(sp *gorm.DB) error {
		return s.repo.WithTx(sp).Create(ctx, receipt)
	})
	if createErr == nil {
		return receipt, true, nil
	}
	if !dbpkg.IsUniqueViolation(createErr, "") {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, createErr, "create receipt")
	}
	existing, err := repo.FindByPayment(ctx, paymentID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload receipt")
	}
	if existing == nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeConflict, createErr, "receipt number taken")
	}
	return existing, false, nil
}

// BuildSnapshot assembles the receipt content from the paid intent.
func BuildSnapshot(number string, intent *models.PaymentIntent, order *models.Order, items []models.OrderItem, fee *models.OrderServiceFee, issuedAt time.Time) Snapshot {
	snap := Snapshot{
		Number:          number,
		PaymentID:       intent.ID,
		Reference:       intent.Reference,
		OrderID:         order.ID,
		CustomerEmail:   order.CustomerEmail,
		Currency:        order.Currency,
		Channel:         string(intent.Channel),
		AmountPaidMinor: intent.AmountMinor,
		OrderTotalMinor: order.TotalMinor,
		PaidAt:          intent.PaidAt,
		IssuedAt:        issuedAt,
		Lines:           make([]SnapshotLine, 0, len(items)),
	}
	if fee != nil {
		snap.ServiceFeeMinor = fee.AmountMinor
	}
	for _, item := range items {
		snap.Lines = append(snap.Lines, SnapshotLine{
			Title:          item.Title,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
			TotalMinor:     item.CustomerTotal(),
		})
	}
	return snap
}

// DecodeSnapshot reads the stored snapshot back.
func DecodeSnapshot(receipt *models.Receipt) (*Snapshot, error) {
	if receipt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "receipt not found")
	}
	var snap Snapshot
	if err := json.Unmarshal(receipt.Snapshot, &snap); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode receipt snapshot")
	}
	return &snap, nil
}
