package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/db/dbtest"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
)

type fakeRepository struct {
	existing *models.SupplierLedgerEntry
	created  []*models.SupplierLedgerEntry
	entries  []models.SupplierLedgerEntry
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, entry *models.SupplierLedgerEntry) error {
	f.created = append(f.created, entry)
	return nil
}

func (f *fakeRepository) FindByReference(ctx context.Context, supplierID uuid.UUID, referenceType, referenceID string, entryType enums.LedgerEntryType) (*models.SupplierLedgerEntry, error) {
	return f.existing, nil
}

func (f *fakeRepository) ListBySupplier(ctx context.Context, supplierID uuid.UUID) ([]models.SupplierLedgerEntry, error) {
	return f.entries, nil
}

func creditInput() RecordEntryInput {
	return RecordEntryInput{
		SupplierID:    uuid.New(),
		Type:          enums.LedgerEntryCredit,
		AmountMinor:   1500,
		ReferenceType: ReferenceAllocation,
		ReferenceID:   uuid.NewString(),
		Note:          "manual payout",
		Metadata:      json.RawMessage(`{"actor":"admin"}`),
	}
}

func TestService_RecordEntry(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	input := creditInput()
	entry, created, err := svc.RecordEntry(context.Background(), input)
	if err != nil {
		t.Fatalf("RecordEntry error: %v", err)
	}
	if !created || len(repo.created) != 1 {
		t.Fatalf("expected one ledger entry to be created")
	}
	if entry.SupplierID != input.SupplierID || entry.AmountMinor != 1500 || entry.Type != enums.LedgerEntryCredit {
		t.Fatalf("unexpected ledger entry: %+v", entry)
	}
	if entry.Note == nil || *entry.Note != "manual payout" {
		t.Fatalf("note not carried: %+v", entry.Note)
	}
	if string(entry.Metadata) != `{"actor":"admin"}` {
		t.Fatalf("metadata mismatch: %s", entry.Metadata)
	}
}

func TestService_RecordEntrySkipsDuplicate(t *testing.T) {
	existing := &models.SupplierLedgerEntry{ID: uuid.New()}
	repo := &fakeRepository{existing: existing}
	svc, _ := NewService(repo)

	entry, created, err := svc.RecordEntry(context.Background(), creditInput())
	if err != nil {
		t.Fatalf("RecordEntry error: %v", err)
	}
	if created {
		t.Fatal("duplicate reference must not write a second entry")
	}
	if entry != existing || len(repo.created) != 0 {
		t.Fatalf("expected existing entry returned")
	}
}

func TestService_RecordEntryValidation(t *testing.T) {
	svc, _ := NewService(&fakeRepository{})
	cases := map[string]func(*RecordEntryInput){
		"supplier":  func(in *RecordEntryInput) { in.SupplierID = uuid.Nil },
		"type":      func(in *RecordEntryInput) { in.Type = "bonus" },
		"amount":    func(in *RecordEntryInput) { in.AmountMinor = 0 },
		"reference": func(in *RecordEntryInput) { in.ReferenceID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := creditInput()
			mutate(&input)
			_, _, err := svc.RecordEntry(context.Background(), input)
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_Balance(t *testing.T) {
	repo := &fakeRepository{entries: []models.SupplierLedgerEntry{
		{Type: enums.LedgerEntryCredit, AmountMinor: 1000},
		{Type: enums.LedgerEntryCredit, AmountMinor: 1500},
		{Type: enums.LedgerEntryDebit, AmountMinor: 400},
	}}
	svc, _ := NewService(repo)
	balance, err := svc.Balance(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 2100 {
		t.Fatalf("expected balance 2100, got %d", balance)
	}
}

func TestRepository_UniqueReference(t *testing.T) {
	conn := dbtest.Open(t)
	svc, _ := NewService(NewRepository(conn))
	input := creditInput()

	if _, created, err := svc.RecordEntry(context.Background(), input); err != nil || !created {
		t.Fatalf("first entry: created=%v err=%v", created, err)
	}
	if _, created, err := svc.RecordEntry(context.Background(), input); err != nil || created {
		t.Fatalf("second entry: created=%v err=%v", created, err)
	}

	var count int64
	if err := conn.Model(&models.SupplierLedgerEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one ledger row, got %d", count)
	}
}
