// ABOUTME: Deterministic JSON encoding used as the signing input for capability payloads.
// ABOUTME: Object keys are sorted so structurally-equal values encode byte-identically.

package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Encode returns the canonical JSON encoding of v.
//
// Rules: nil encodes as the literal null; scalars follow standard JSON
// encoding; arrays keep element order; object keys are emitted in ascending
// lexicographic order regardless of how the value was constructed. Numbers
// pass through with their original literal form preserved, so integer
// timestamps never pick up a float representation on one side only.
//
// Both the signer and the verifier must run their payload through this
// function; any other encoding of the same value is not a valid signing
// input.
func Encode(v any) (string, error) {
	norm, err := normalize(v)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, norm); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// normalize round-trips v through encoding/json into the generic form
// (map[string]any, []any, json.Number, string, bool, nil) so that structs
// and maps canonicalize identically.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshaling value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var norm any
	if err := dec.Decode(&norm); err != nil {
		return nil, fmt.Errorf("canonical: decoding value: %w", err)
	}
	return norm, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")

	case json.Number:
		buf.WriteString(val.String())

	case string:
		return writeString(buf, val)

	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

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
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return fmt.Errorf("canonical: unsupported value type %T", v)
	}

	return nil
}

// writeString emits s with standard JSON escaping and no HTML escaping,
// so the output matches what an independent JSON encoder would produce.
func writeString(buf *bytes.Buffer, s string) error {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("canonical: encoding string: %w", err)
	}
	// Encoder.Encode appends a trailing newline.
	buf.WriteString(strings.TrimSuffix(sb.String(), "\n"))
	return nil
}
