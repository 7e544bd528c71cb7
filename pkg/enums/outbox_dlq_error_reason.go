package enums

import "fmt"

// OutboxDLQErrorReason explains why an outbox row was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonMaxAttempts,
}

// String implements fmt.Stringer.
func (o OutboxDLQErrorReason) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OutboxDLQErrorReason.
func (o OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQErrorReasons {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOutboxDLQErrorReason converts raw input into a OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	for _, candidate := range validOutboxDLQErrorReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox dlq error reason %q", value)
}
