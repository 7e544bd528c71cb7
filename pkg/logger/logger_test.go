package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithPaymentID(ctx, "pay-1")
	ctx = log.WithReference(ctx, "PAY-260101-ABCDEFGH")

	log.Error(ctx, "boom", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"payment_id":"pay-1"`)
	assert.Contains(t, out, `"reference":"PAY-260101-ABCDEFGH"`)
	assert.Contains(t, out, `"stack"`)
}

func TestLoggerWithFieldsDoesNotLeakIntoParent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	parent := log.WithOrderID(context.Background(), "order-1")
	_ = log.WithFields(parent, map[string]any{"effect": "receipt"})

	log.Info(parent, "parent only")
	require.Contains(t, buf.String(), `"order_id":"order-1"`)
	assert.NotContains(t, buf.String(), `"effect"`)
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
}

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{
		"account_number": "0123456789",
		"bank_code":      "058",
	})
	ctx = log.WithField(ctx, "Signature", "abc123")
	log.Info(ctx, "resolving recipient")

	out := buf.String()
	assert.NotContains(t, out, "0123456789")
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, `"bank_code":"058"`)
	assert.Contains(t, out, `"account_number":"[REDACTED]"`)
}

func TestLoggerDebugRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: buf})
	log.Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	log = New(Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: buf})
	log.Debug(log.WithSupplierID(context.Background(), "sup-1"), "visible")
	assert.Contains(t, buf.String(), `"supplier_id":"sup-1"`)
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Format: FormatConsole, Output: buf})
	log.Info(context.Background(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
	assert.Contains(t, buf.String(), "hello")
}
