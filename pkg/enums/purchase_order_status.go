package enums

import "fmt"

// PurchaseOrderStatus tracks money owed to one supplier for an order.
type PurchaseOrderStatus string

const (
	PurchaseOrderStatusCreated  PurchaseOrderStatus = "created"
	PurchaseOrderStatusFunded   PurchaseOrderStatus = "funded"
	PurchaseOrderStatusPaidOut  PurchaseOrderStatus = "paid_out"
	PurchaseOrderStatusCanceled PurchaseOrderStatus = "canceled"
)

var validPurchaseOrderStatuss = []PurchaseOrderStatus{
	PurchaseOrderStatusCreated,
	PurchaseOrderStatusFunded,
	PurchaseOrderStatusPaidOut,
	PurchaseOrderStatusCanceled,
}

// String implements fmt.Stringer.
func (p PurchaseOrderStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PurchaseOrderStatus.
func (p PurchaseOrderStatus) IsValid() bool {
	for _, candidate := range validPurchaseOrderStatuss {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePurchaseOrderStatus converts raw input into a PurchaseOrderStatus.
func ParsePurchaseOrderStatus(value string) (PurchaseOrderStatus, error) {
	for _, candidate := range validPurchaseOrderStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase order status %q", value)
}
