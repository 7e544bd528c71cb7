package enums

import "fmt"

// AllocationStatus is the state of a supplier payment allocation. HELD is the only
// initial state; legacy PENDING rows are migrated to HELD.
type AllocationStatus string

const (
	AllocationStatusHeld     AllocationStatus = "held"
	AllocationStatusPaid     AllocationStatus = "paid"
	AllocationStatusReversed AllocationStatus = "reversed"
)

var validAllocationStatuss = []AllocationStatus{
	AllocationStatusHeld,
	AllocationStatusPaid,
	AllocationStatusReversed,
}

// String implements fmt.Stringer.
func (a AllocationStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AllocationStatus.
func (a AllocationStatus) IsValid() bool {
	for _, candidate := range validAllocationStatuss {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAllocationStatus converts raw input into a AllocationStatus.
func ParseAllocationStatus(value string) (AllocationStatus, error) {
	for _, candidate := range validAllocationStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid allocation status %q", value)
}

// Rank orders statuses so callers can refuse backwards transitions.
func (a AllocationStatus) Rank() int {
	switch a {
	case AllocationStatusHeld:
		return 0
	case AllocationStatusPaid, AllocationStatusReversed:
		return 1
	}
	return -1
}
