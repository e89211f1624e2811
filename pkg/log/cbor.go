package log

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ErrEventTooLarge is returned when a capture record exceeds maxEventSize.
var ErrEventTooLarge = errors.New("capture event too large")

// maxEventSize bounds one encoded capture record. Message payloads are
// already truncated to MaxCapturedData, so only a broken file gets near it.
const maxEventSize = 1 << 20

var (
	// Capture files are compared across runs, so encoding is canonical and
	// timestamps keep nanoseconds.
	captureEnc = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})

	captureDec = mustDecMode(cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyQuiet,
		IndefLength:     cbor.IndefLengthAllowed,
		MaxNestedLevels: 16,
		MaxMapPairs:     1024,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture encoder: %v", err))
	}
	return em
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture decoder: %v", err))
	}
	return dm
}

// EncodeEvent encodes one capture record.
func EncodeEvent(event Event) ([]byte, error) {
	data, err := captureEnc.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode capture event: %w", err)
	}
	if len(data) > maxEventSize {
		return nil, ErrEventTooLarge
	}
	return data, nil
}

// DecodeEvent decodes one capture record.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) > maxEventSize {
		return Event{}, ErrEventTooLarge
	}
	var event Event
	if err := captureDec.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode capture event: %w", err)
	}
	return event, nil
}

func newEventEncoder(w io.Writer) *cbor.Encoder {
	return captureEnc.NewEncoder(w)
}

func newEventDecoder(r io.Reader) *cbor.Decoder {
	return captureDec.NewDecoder(r)
}
