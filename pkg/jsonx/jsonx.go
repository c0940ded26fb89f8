// Package jsonx produces canonical JSON: keys sorted, compact separators,
// and non-native values (times, byte strings, structs) converted
// recursively. Webhook signatures are computed over these exact bytes, so
// the encoding must be stable across processes and retries.
package jsonx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Canonical serializes v deterministically. encoding/json already sorts
// map keys and emits compact output; this normalizes the value tree first
// so times become RFC 3339 strings and byte slices become lossy UTF-8
// instead of base64.
func Canonical(v any) ([]byte, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, fmt.Errorf("jsonx canonical: %w", err)
	}
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("jsonx canonical: %w", err)
	}
	return b, nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return t, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case []byte:
		return string(bytes.ToValidUTF8(t, []byte("�"))), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		// Structs, typed maps and slices round-trip through encoding/json
		// into the generic tree, then normalize again.
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return nil, err
		}
		if _, again := generic.(map[string]any); again {
			return normalize(generic)
		}
		if _, again := generic.([]any); again {
			return normalize(generic)
		}
		return generic, nil
	}
}
