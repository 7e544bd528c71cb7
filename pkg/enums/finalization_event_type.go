package enums

import "fmt"

// FinalizationEventType marks that one downstream effect of a paid intent already ran.
type FinalizationEventType string

const (
	FinalizationFinalizePaid      FinalizationEventType = "FINALIZE_PAID"
	FinalizationSuppliersNotified FinalizationEventType = "SUPPLIERS_NOTIFIED"
	FinalizationPayoutsDispatched FinalizationEventType = "PAYOUTS_DISPATCHED"
	FinalizationPayoutsSkipped    FinalizationEventType = "PAYOUTS_SKIPPED"
	FinalizationReceiptIssued     FinalizationEventType = "RECEIPT_ISSUED"
	FinalizationProfitComputed    FinalizationEventType = "PROFIT_COMPUTED"
	FinalizationCustomerNotified  FinalizationEventType = "CUSTOMER_NOTIFIED"
)

var validFinalizationEventTypes = []FinalizationEventType{
	FinalizationFinalizePaid,
	FinalizationSuppliersNotified,
	FinalizationPayoutsDispatched,
	FinalizationPayoutsSkipped,
	FinalizationReceiptIssued,
	FinalizationProfitComputed,
	FinalizationCustomerNotified,
}

// String implements fmt.Stringer.
func (f FinalizationEventType) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FinalizationEventType.
func (f FinalizationEventType) IsValid() bool {
	for _, candidate := range validFinalizationEventTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFinalizationEventType converts raw input into a FinalizationEventType.
func ParseFinalizationEventType(value string) (FinalizationEventType, error) {
	for _, candidate := range validFinalizationEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid finalization event type %q", value)
}
