package dedup

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// encMode produces canonical CBOR so equal values always hash the same.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create dedup CBOR encoder mode: %v", err))
	}
}

// Digest returns the BLAKE2b-256 digest of the canonical CBOR encoding of v.
func Digest(v any) ([blake2b.Size256]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return [blake2b.Size256]byte{}, fmt.Errorf("encode message: %w", err)
	}
	return blake2b.Sum256(data), nil
}

// Deduplicator forwards a message to its handler only when it differs from
// the previously forwarded one. It is safe for concurrent use; the handler is
// called with the lock held, so calls are serialised.
type Deduplicator[T any] struct {
	mu      sync.Mutex
	handler func(T)
	last    [blake2b.Size256]byte
	hasLast bool
}

// New creates a Deduplicator wrapping handler.
func New[T any](handler func(T)) *Deduplicator[T] {
	return &Deduplicator[T]{handler: handler}
}

// Handle forwards msg unless it equals the previous message. It reports
// whether the handler was called. A message that cannot be encoded is always
// forwarded and clears the stored digest.
func (d *Deduplicator[T]) Handle(msg T) bool {
	sum, err := Digest(msg)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		d.hasLast = false
		d.handler(msg)
		return true
	}
	if d.hasLast && sum == d.last {
		return false
	}
	d.last = sum
	d.hasLast = true
	d.handler(msg)
	return true
}

// Reset forgets the last digest so the next message is always forwarded.
func (d *Deduplicator[T]) Reset() {
	d.mu.Lock()
	d.hasLast = false
	d.mu.Unlock()
}
