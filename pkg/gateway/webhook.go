package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw request body.
const SignatureHeader = "X-Gateway-Signature"

// EventChargeSuccess is the only push event that moves money state.
const EventChargeSuccess = "charge.success"

// Event is an inbound push notification.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ValidSignature recomputes the keyed hash over the exact bytes received and
// compares it to the header in constant time.
func ValidSignature(payload []byte, secret, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}

// Sign returns the signature a sender would attach to payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent decodes a push notification body.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	if strings.TrimSpace(event.Event) == "" {
		return nil, errors.New("event type missing")
	}
	return &event, nil
}

// Charge decodes the event data as a charge object.
func (e *Event) Charge() (*ChargeData, error) {
	var data ChargeData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	if strings.TrimSpace(data.Reference) == "" {
		return nil, errors.New("charge reference missing")
	}
	return &data, nil
}
