package comm

import (
	"fmt"
	"sync"
)

// Property is one addressable unit of device state.
//
// DecodeValue must not modify the property. It returns a commit function
// which the Message calls only once every property in the batch has decoded,
// so a malformed response never leaves a partial update behind.
type Property interface {
	// Address identifies the property on the device (an OID, group address,
	// command code, ...). Its format is owned by the protocol adapter.
	Address() string

	// EncodeValue encodes the current value for a store request.
	EncodeValue() ([]byte, error)

	// DecodeValue decodes a response payload, staging the result.
	DecodeValue(data []byte) (commit func(), err error)
}

// invalidator is implemented by properties that track staleness.
type invalidator interface {
	Invalidate()
}

// Codec converts between a typed value and its wire representation.
type Codec[V any] struct {
	Encode func(V) ([]byte, error)
	Decode func([]byte) (V, error)
}

// Value is a generic Property holding a typed value.
//
// Thread Safety:
//   - Get, Set and IsStale are safe for concurrent use. The value may be read
//     by API handlers while the poller goroutine decodes into it.
type Value[V any] struct {
	addr  string
	codec Codec[V]

	mu    sync.RWMutex
	val   V
	stale bool
}

var _ Property = (*Value[int])(nil)

// NewValue creates a stale property at addr.
func NewValue[V any](addr string, codec Codec[V]) *Value[V] {
	return &Value[V]{addr: addr, codec: codec, stale: true}
}

// NewValueOf creates a property holding v, ready for a store request.
func NewValueOf[V any](addr string, codec Codec[V], v V) *Value[V] {
	return &Value[V]{addr: addr, codec: codec, val: v}
}

// Address returns the property address.
func (p *Value[V]) Address() string {
	return p.addr
}

// Get returns the last decoded or set value.
func (p *Value[V]) Get() V {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.val
}

// Set replaces the value, typically before a store.
func (p *Value[V]) Set(v V) {
	p.mu.Lock()
	p.val = v
	p.stale = false
	p.mu.Unlock()
}

// IsStale reports whether the value has not been confirmed by the device
// since creation or the last failed exchange.
func (p *Value[V]) IsStale() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stale
}

// Invalidate marks the value stale.
func (p *Value[V]) Invalidate() {
	p.mu.Lock()
	p.stale = true
	p.mu.Unlock()
}

// EncodeValue implements Property.
func (p *Value[V]) EncodeValue() ([]byte, error) {
	if p.codec.Encode == nil {
		return nil, fmt.Errorf("comm: property %s is read-only", p.addr)
	}
	return p.codec.Encode(p.Get())
}

// DecodeValue implements Property.
func (p *Value[V]) DecodeValue(data []byte) (func(), error) {
	v, err := p.codec.Decode(data)
	if err != nil {
		return nil, wrapFault(FaultParsing, "decode "+p.addr, err)
	}
	return func() {
		p.mu.Lock()
		p.val = v
		p.stale = false
		p.mu.Unlock()
	}, nil
}

// String returns "address=value".
func (p *Value[V]) String() string {
	return fmt.Sprintf("%s=%v", p.addr, p.Get())
}
