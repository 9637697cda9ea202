package transport

import (
	"encoding/json"
)

// Frame is one parsed server event: a JSON object with a string "type".
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the whole frame into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// ParseFrame parses a raw payload. It reports false for anything that is
// not a JSON object. A missing or non-string "type" yields an empty Type.
func ParseFrame(data []byte) (Frame, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Frame{}, false
	}

	var typ string
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}

	return Frame{Type: typ, Raw: json.RawMessage(data)}, true
}
