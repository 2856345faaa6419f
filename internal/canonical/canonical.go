// Package canonical produces a deterministic JSON encoding used as the
// hashing substrate for the whole custody engine.
//
// Object keys are sorted lexicographically at every nesting level, array
// order is preserved, and no whitespace is emitted. Two structurally equal
// values therefore always canonicalize to byte-identical output, regardless
// of map iteration order or how the value was constructed.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns the canonical JSON encoding of v. v may be any
// JSON-representable Go value: structs, maps, slices, strings, numbers,
// booleans, nil, or json.RawMessage.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return Transform(raw)
}

// Transform rewrites an existing JSON document into canonical form.
// Numbers pass through with their original textual representation intact, so
// re-canonicalizing canonical output is the identity.
func Transform(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	// Trailing content after the first value means the input was not a
	// single JSON document.
	if dec.More() {
		return nil, fmt.Errorf("trailing data after json value")
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encode string: %w", err)
		}
		buf.Write(enc)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("encode key %q: %w", k, err)
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := writeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported json value of type %T", v)
	}
	return nil
}
