package datastream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEncode reports a frame whose payload could not be serialized.
var ErrEncode = errors.New("datastream: encode frame")

// Encode serializes f as "<code>:<json>\n". JSON string escaping guarantees the
// payload never contains a literal newline. On error no bytes are returned.
func Encode(f Frame) ([]byte, error) {
	switch f.Kind {
	case KindTextDelta, KindToolCall, KindToolResult:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrEncode, byte(f.Kind))
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(f.Kind))
	buf.WriteByte(':')
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoder.Encode appends the trailing newline.
	if err := enc.Encode(f.Payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, f.Kind, err)
	}
	return buf.Bytes(), nil
}
