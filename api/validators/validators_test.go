package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
)

type checkoutBody struct {
	Channel string `json:"channel" validate:"required,payment_channel"`
	Email   string `json:"email" validate:"omitempty,email"`
}

type trimmedBody struct {
	Email string `json:"email" validate:"required,email"`
}

func (b *trimmedBody) Normalize() { b.Email = strings.TrimSpace(b.Email) }

func request(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyValidatesChannel(t *testing.T) {
	var ok checkoutBody
	require.NoError(t, DecodeJSONBody(request(`{"channel":"bank_transfer"}`), &ok))
	assert.Equal(t, "bank_transfer", ok.Channel)

	var bad checkoutBody
	err := DecodeJSONBody(request(`{"channel":"crypto","email":"nope"}`), &bad)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details := typed.Details().(map[string]string)
	assert.Contains(t, details["channel"], "card")
	assert.Equal(t, "must be a valid email", details["email"])
}

func TestDecodeJSONBodyNormalizesBeforeValidation(t *testing.T) {
	var trimmed trimmedBody
	require.NoError(t, DecodeJSONBody(request(`{"email":"  buyer@example.com\t"}`), &trimmed))
	assert.Equal(t, "buyer@example.com", trimmed.Email)

	var padded checkoutBody
	err := DecodeJSONBody(request(`{"channel":"card","email":" buyer@example.com "}`), &padded)
	require.Error(t, err)
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	for name, body := range map[string]string{
		"unknown field": `{"channel":"card","amount":1}`,
		"two objects":   `{"channel":"card"}{"channel":"card"}`,
		"not json":      `channel=card`,
	} {
		var dest checkoutBody
		err := DecodeJSONBody(request(body), &dest)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), name)
	}

	big := `{"channel":"card","email":"` + strings.Repeat("a", MaxBodyBytes) + `@x.io"}`
	var dest checkoutBody
	err := DecodeJSONBody(request(big), &dest)
	require.Error(t, err)
	assert.Contains(t, pkgerrors.As(err).Message(), "exceeds")
}

func TestReference(t *testing.T) {
	ref, err := Reference("  PAY-260101-ABCDEFGH ")
	require.NoError(t, err)
	assert.Equal(t, "PAY-260101-ABCDEFGH", ref)

	for _, raw := range []string{"", "PAY 1", "PAY/../1", strings.Repeat("x", 129)} {
		_, err := Reference(raw)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), raw)
	}
}

func TestSanitizeStringKeepsUTF8(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abc  ", 0))
	assert.Equal(t, "caf", SanitizeString("café", 4))
	assert.Equal(t, "café", SanitizeString("café", 5))
}
