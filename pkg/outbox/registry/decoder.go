package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// ErrNoDecoder is returned for an event type/version pair nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

// DecodeFunc turns a stored payload into its typed event.
type DecodeFunc func(payload json.RawMessage) (any, error)

type decoderKey struct {
	event   enums.OutboxEventType
	version int
}

// DecoderRegistry maps (event type, schema version) to a payload decoder.
// Consumers register every version they accept so old rows still in the
// outbox keep decoding after a payload change.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]DecodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: map[decoderKey]DecodeFunc{}}
}

// Register adds a decoder. Registering the same pair twice is a wiring bug.
func (r *DecoderRegistry) Register(event enums.OutboxEventType, version int, fn DecodeFunc) error {
	if fn == nil {
		return fmt.Errorf("decoder for %s@v%d is nil", event, version)
	}
	if version < 1 {
		return fmt.Errorf("decoder version must be positive, got %d", version)
	}
	key := decoderKey{event: event, version: version}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[key]; exists {
		return fmt.Errorf("decoder for %s@v%d already registered", event, version)
	}
	r.decoders[key] = fn
	return nil
}

// RegisterJSON registers a decoder that unmarshals into T and then runs check,
// when given, against the result.
func RegisterJSON[T any](r *DecoderRegistry, event enums.OutboxEventType, version int, check func(T) error) error {
	return r.Register(event, version, func(payload json.RawMessage) (any, error) {
		var out T
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, err
		}
		if check != nil {
			if err := check(out); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

func (r *DecoderRegistry) Decode(event enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	fn, ok := r.decoders[decoderKey{event: event, version: version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, event, version)
	}
	out, err := fn(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s@v%d: %w", event, version, err)
	}
	return out, nil
}

// Versions lists the registered schema versions for event in ascending order.
func (r *DecoderRegistry) Versions(event enums.OutboxEventType) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var versions []int
	for key := range r.decoders {
		if key.event == event {
			versions = append(versions, key.version)
		}
	}
	sort.Ints(versions)
	return versions
}
