package jsonx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeysCompact(t *testing.T) {
	b, err := Canonical(map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": false}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":{"y":false,"z":true}}`, string(b))
}

func TestCanonicalTimeRFC3339(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("ICT", 7*3600))
	b, err := Canonical(map[string]any{"timestamp": ts})
	require.NoError(t, err)
	assert.Equal(t, `{"timestamp":"2025-03-14T02:26:53Z"}`, string(b))
}

func TestCanonicalBytesLossyUTF8(t *testing.T) {
	b, err := Canonical(map[string]any{"raw": []byte{'o', 'k', 0xff}})
	require.NoError(t, err)
	assert.Equal(t, `{"raw":"ok�"}`, string(b))
}

func TestCanonicalStructsFlattened(t *testing.T) {
	type inner struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	b, err := Canonical(map[string]any{"v": inner{B: 2, A: 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"v":{"a":1,"b":2}}`, string(b))
}

func TestCanonicalStable(t *testing.T) {
	payload := map[string]any{
		"job_id": "j-1",
		"result": map[string]any{"amount": 245.5, "vendor": "ร้านอาหารดีใจ"},
		"ts":     time.Unix(1700000000, 0),
	}
	first, err := Canonical(payload)
	require.NoError(t, err)
	for range 10 {
		again, err := Canonical(payload)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	payload := map[string]any{"a": []any{1.0, "x", nil}, "b": true}
	b, err := Canonical(payload)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, payload, back)
}
