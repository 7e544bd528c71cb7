package validators

import (
	"regexp"
	"strings"
	"unicode/utf8"

	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
)

var referenceRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// SanitizeString trims input and cuts it to maxLen bytes without splitting a
// UTF-8 sequence.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 || len(trimmed) <= maxLen {
		return trimmed
	}
	cut := trimmed[:maxLen]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// Reference validates a gateway payment reference taken from a path or query.
func Reference(raw string) (string, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if !referenceRe.MatchString(ref) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "reference has invalid characters or length")
	}
	return ref, nil
}
