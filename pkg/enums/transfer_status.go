package enums

import "fmt"

// TransferStatus tracks a payout transfer to a supplier.
type TransferStatus string

const (
	TransferStatusQueued  TransferStatus = "queued"
	TransferStatusSent    TransferStatus = "sent"
	TransferStatusSkipped TransferStatus = "skipped"
	TransferStatusFailed  TransferStatus = "failed"
)

var validTransferStatuss = []TransferStatus{
	TransferStatusQueued,
	TransferStatusSent,
	TransferStatusSkipped,
	TransferStatusFailed,
}

// String implements fmt.Stringer.
func (t TransferStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransferStatus.
func (t TransferStatus) IsValid() bool {
	for _, candidate := range validTransferStatuss {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransferStatus converts raw input into a TransferStatus.
func ParseTransferStatus(value string) (TransferStatus, error) {
	for _, candidate := range validTransferStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transfer status %q", value)
}
