package enums

import (
	"fmt"
	"slices"
)

// PaymentStatus tracks a payment intent. Only PENDING moves; every other
// state is final.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusCanceled PaymentStatus = "canceled"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusCanceled,
}

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool {
	return slices.Contains(paymentStatuses, p)
}

// ParsePaymentStatus accepts the lowercase wire form only.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	status := PaymentStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid payment status %q", value)
	}
	return status, nil
}

func (p PaymentStatus) IsTerminal() bool {
	return p.IsValid() && p != PaymentStatusPending
}

// CanTransitionTo reports whether an intent in p may be moved to next.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return p == PaymentStatusPending && next.IsTerminal()
}
