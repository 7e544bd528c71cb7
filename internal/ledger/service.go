package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	dbpkg "github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
)

// Reference types recorded on ledger entries.
const (
	ReferenceAllocation = "supplier_payment_allocation"
	ReferencePayout     = "payout_transfer"
)

// Service defines operations that record supplier ledger entries.
type Service interface {
	WithRepository(repo Repository) Service
	RecordEntry(ctx context.Context, input RecordEntryInput) (*models.SupplierLedgerEntry, bool, error)
	Balance(ctx context.Context, supplierID uuid.UUID) (int64, error)
}

type service struct {
	repo Repository
}

// RecordEntryInput captures the immutable data a ledger entry requires.
type RecordEntryInput struct {
	SupplierID    uuid.UUID             `json:"supplier_id"`
	Type          enums.LedgerEntryType `json:"type"`
	AmountMinor   int64                 `json:"amount_minor"`
	ReferenceType string                `json:"reference_type"`
	ReferenceID   string                `json:"reference_id"`
	Note          string                `json:"note,omitempty"`
	Metadata      json.RawMessage       `json:"metadata,omitempty"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// WithRepository returns a copy bound to repo, typically a transaction-scoped
// one.
func (s *service) WithRepository(repo Repository) Service {
	if repo == nil {
		return s
	}
	return &service{repo: repo}
}

// RecordEntry writes the entry unless one already exists for the same
// supplier, reference and type. The boolean reports whether a row was written.
func (s *service) RecordEntry(ctx context.Context, input RecordEntryInput) (*models.SupplierLedgerEntry, bool, error) {
	if input.SupplierID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "supplier id is required")
	}
	if !input.Type.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", input.Type))
	}
	if input.AmountMinor <= 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.ReferenceType == "" || input.ReferenceID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}

	existing, err := s.repo.FindByReference(ctx, input.SupplierID, input.ReferenceType, input.ReferenceID, input.Type)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	entry := &models.SupplierLedgerEntry{
		SupplierID:    input.SupplierID,
		Type:          input.Type,
		AmountMinor:   input.AmountMinor,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
	}
	if input.Note != "" {
		note := input.Note
		entry.Note = &note
	}
	if len(input.Metadata) > 0 {
		entry.Metadata = datatypes.JSON(input.Metadata)
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "ledger entry already recorded")
		}
		return nil, false, err
	}
	return entry, true, nil
}

func (s *service) Balance(ctx context.Context, supplierID uuid.UUID) (int64, error) {
	if supplierID == uuid.Nil {
		return 0, fmt.Errorf("supplier id is required")
	}
	entries, err := s.repo.ListBySupplier(ctx, supplierID)
	if err != nil {
		return 0, err
	}
	var balance int64
	for _, entry := range entries {
		switch entry.Type {
		case enums.LedgerEntryCredit:
			balance += entry.AmountMinor
		case enums.LedgerEntryDebit:
			balance -= entry.AmountMinor
		}
	}
	return balance, nil
}
