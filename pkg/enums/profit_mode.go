package enums

import "fmt"

// ProfitMode selects which costs are subtracted from the amount paid.
type ProfitMode string

const (
	ProfitModeSimple   ProfitMode = "simple"
	ProfitModeAccurate ProfitMode = "accurate"
)

var validProfitModes = []ProfitMode{
	ProfitModeSimple,
	ProfitModeAccurate,
}

// String implements fmt.Stringer.
func (p ProfitMode) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ProfitMode.
func (p ProfitMode) IsValid() bool {
	for _, candidate := range validProfitModes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProfitMode converts raw input into a ProfitMode.
func ParseProfitMode(value string) (ProfitMode, error) {
	for _, candidate := range validProfitModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid profit mode %q", value)
}
