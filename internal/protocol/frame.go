package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// reservedChars may never appear in a frame key or value.
const reservedChars = "{}:"

// Frame is one wire message.
type Frame struct {
	Key   string
	Value string
}

// String renders the frame as {key:value}.
func (f Frame) String() string {
	return "{" + f.Key + ":" + f.Value + "}"
}

// Validate reports whether the frame can be encoded without ambiguity.
// Besides the reserved characters, keys and values with surrounding
// whitespace are rejected: decoding trims both, so " k" would come back as "k".
func (f Frame) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("frame key is empty")
	}
	if f.Value == "" {
		return fmt.Errorf("frame %q: value is empty", f.Key)
	}
	// A quoted key would make the payload look like a JSON object.
	if strings.Contains(f.Key, `"`) {
		return fmt.Errorf("frame key %q contains a quote", f.Key)
	}
	for _, part := range []struct{ name, s string }{{"key", f.Key}, {"value", f.Value}} {
		if strings.ContainsAny(part.s, reservedChars) {
			return fmt.Errorf("frame %s %q contains one of %q", part.name, part.s, reservedChars)
		}
		if strings.TrimSpace(part.s) != part.s {
			return fmt.Errorf("frame %s %q has surrounding whitespace", part.name, part.s)
		}
	}
	return nil
}

// Encode produces the bare {key:value} form.
func Encode(f Frame) []byte {
	return []byte(f.String())
}

// EncodeLine produces {key:value}\n, the form expected on the Bluetooth path.
func EncodeLine(f Frame) []byte {
	return append(Encode(f), '\n')
}

// Decode parses a single inbound payload. It returns false for anything that
// is not a recognised shape; malformed telemetry is dropped, not reported.
func Decode(data []byte) (Frame, bool) {
	frames := decode(data, 1)
	if len(frames) == 0 {
		return Frame{}, false
	}
	return frames[0], true
}

// DecodeAll is like Decode but returns every member of a JSON object payload
// in document order. Other shapes yield at most one frame.
func DecodeAll(data []byte) []Frame {
	return decode(data, 0)
}

func decode(data []byte, limit int) []Frame {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return nil
	}

	if strings.Contains(s, `"`) {
		if frames, err := decodeJSON(s, limit); err == nil && len(frames) > 0 {
			return frames
		}
	}

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		if f, ok := decodeBare(s); ok {
			return []Frame{f}
		}
		return nil
	}

	// Legacy firmware sends only the distance as a bare number.
	if digits, ok := legacyDistance(s); ok {
		return []Frame{{Key: KeyDistance, Value: digits}}
	}
	return nil
}

// legacyDistance accepts an unsigned decimal reading such as "37" or "15.30"
// and returns its integer part.
func legacyDistance(s string) (string, bool) {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if !isDigits(intPart) || (hasFrac && !isDigits(frac)) {
		return "", false
	}
	n, err := strconv.ParseUint(intPart, 10, 32)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(n, 10), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func decodeBare(s string) (Frame, bool) {
	content := s[1 : len(s)-1]
	idx := strings.IndexByte(content, ':')
	if idx < 0 {
		return Frame{}, false
	}
	key := strings.TrimSpace(content[:idx])
	value := strings.TrimSpace(content[idx+1:])
	if key == "" || value == "" {
		return Frame{}, false
	}
	return Frame{Key: key, Value: value}, true
}

var errNotObject = errors.New("payload is not a flat JSON object")

// decodeJSON walks the object token by token so member order is preserved.
func decodeJSON(s string, limit int) ([]Frame, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}

	var frames []Frame
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		value, ok := scalarText(raw)
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errNotObject
		}
		frames = append(frames, Frame{Key: strings.TrimSpace(key), Value: value})
		if limit > 0 && len(frames) == limit {
			return frames, nil
		}
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return frames, nil
}

// scalarText renders a JSON scalar the way the firmware would have sent it
// in the bare form.
func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	case '{', '[', 'n':
		return "", false
	default:
		return string(raw), true
	}
}
