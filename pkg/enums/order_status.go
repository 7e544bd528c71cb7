package enums

import "fmt"

// OrderStatus is the customer order lifecycle as far as settlement cares.
type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "pending"
	OrderStatusAwaitingFulfillment OrderStatus = "awaiting_fulfillment"
	OrderStatusFulfilled           OrderStatus = "fulfilled"
	OrderStatusCanceled            OrderStatus = "canceled"
)

var validOrderStatuss = []OrderStatus{
	OrderStatusPending,
	OrderStatusAwaitingFulfillment,
	OrderStatusFulfilled,
	OrderStatusCanceled,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuss {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into a OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
