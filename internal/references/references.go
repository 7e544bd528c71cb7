// Package references mints short, human-readable payment and purchase-order
// references and retries when one is already taken.
package references

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
)

const (
	PrefixPayment       = "PAY"
	PrefixPurchaseOrder = "PO"
	PrefixReceipt       = "RCT"
	PrefixTransfer      = "TRF"

	DefaultAttempts = 5

	codeLength = 8
	// Crockford base32 without I, L, O, U.
	alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// ErrCollision marks a reference that is already in use. Only this error is
// retried by Retry.
var ErrCollision = errors.New("reference collision")

// ExistsFunc reports whether a candidate reference is already taken.
type ExistsFunc func(ctx context.Context, reference string) (bool, error)

// Generator builds references of the form PREFIX-YYMMDD-XXXXXXXX.
type Generator struct {
	now     func() time.Time
	entropy io.Reader
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock dates references with now instead of the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: time.Now, entropy: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// New returns a fresh candidate reference without checking uniqueness.
func (g *Generator) New(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "reference prefix is required")
	}
	buf := make([]byte, codeLength)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read reference entropy")
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = alphabet[int(b)%len(alphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, g.now().UTC().Format("060102"), code), nil
}

// Mint returns a reference that exists reports as unused. A nil exists skips
// the check and leaves collision handling to the caller's insert.
func (g *Generator) Mint(ctx context.Context, prefix string, attempts int, exists ExistsFunc) (string, error) {
	var minted string
	err := Retry(ctx, attempts, func(int) error {
		candidate, err := g.New(prefix)
		if err != nil {
			return err
		}
		if exists != nil {
			taken, err := exists(ctx, candidate)
			if err != nil {
				return err
			}
			if taken {
				return ErrCollision
			}
		}
		minted = candidate
		return nil
	})
	if err != nil {
		return "", err
	}
	return minted, nil
}

// Retry runs fn up to attempts times while it fails with ErrCollision. Any
// other error is returned immediately.
func Retry(ctx context.Context, attempts int, fn func(attempt int) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCollision) {
			return err
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrCollision, fmt.Sprintf("no free reference after %d attempts", attempts))
}
