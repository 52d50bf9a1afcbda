package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// ErrMessageTooLarge is returned by Send when the encoded payload exceeds the
// 32-bit length prefix.
var ErrMessageTooLarge = errors.New("protocol: message too large")

// ErrCodec wraps a deserialization failure so callers can distinguish it from
// a transport-level IO error.
type ErrCodec struct {
	Cause error
}

func (e *ErrCodec) Error() string { return fmt.Sprintf("protocol: codec error: %v", e.Cause) }
func (e *ErrCodec) Unwrap() error { return e.Cause }

func encode(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, &ErrCodec{Cause: err}
	}
	if err := checkSize(len(b)); err != nil {
		return nil, err
	}
	return b, nil
}

// checkSize enforces the wire format's u32 length-prefix limit: a payload of
// exactly math.MaxUint32 bytes sends successfully, one byte more does not.
func checkSize(n int) error {
	if n > math.MaxUint32 {
		return ErrMessageTooLarge
	}
	return nil
}

func decode(b []byte, v any) error {
	if err := cbor.Unmarshal(b, v); err != nil {
		return &ErrCodec{Cause: err}
	}
	return nil
}
