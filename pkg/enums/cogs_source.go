package enums

import "fmt"

// CogsSource records where a line's cost basis came from.
type CogsSource string

const (
	CogsSourceChosenSupplier CogsSource = "chosen_supplier"
	CogsSourceVariantOffer   CogsSource = "variant_offer"
	CogsSourceProductOffer   CogsSource = "product_offer"
	CogsSourceMissing        CogsSource = "missing"
)

var validCogsSources = []CogsSource{
	CogsSourceChosenSupplier,
	CogsSourceVariantOffer,
	CogsSourceProductOffer,
	CogsSourceMissing,
}

// String implements fmt.Stringer.
func (c CogsSource) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CogsSource.
func (c CogsSource) IsValid() bool {
	for _, candidate := range validCogsSources {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCogsSource converts raw input into a CogsSource.
func ParseCogsSource(value string) (CogsSource, error) {
	for _, candidate := range validCogsSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cogs source %q", value)
}
