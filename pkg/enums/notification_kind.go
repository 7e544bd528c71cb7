package enums

import "fmt"

// NotificationKind names a message sent as a side effect of payment.
type NotificationKind string

const (
	NotificationSupplierOrder NotificationKind = "supplier_purchase_order"
	NotificationCustomerPaid  NotificationKind = "customer_payment_confirmed"
)

var validNotificationKinds = []NotificationKind{
	NotificationSupplierOrder,
	NotificationCustomerPaid,
}

// String implements fmt.Stringer.
func (n NotificationKind) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationKind.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into a NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
