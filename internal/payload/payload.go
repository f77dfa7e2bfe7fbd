// Package payload normalizes the two payload shapes a created-contract
// event's JSON blob can arrive in: named fields already keyed by domain
// attribute, or a generic record with an ordered positional field list
// (§4.G.3, §4.H field extraction strategy). Every projection that reads
// contract payloads goes through here so shape detection happens exactly
// once per call site and is counted for observability.
package payload

import (
	"encoding/json"
	"fmt"
)

// Shape is which of the two payload encodings a record used.
type Shape string

const (
	ShapeNamed      Shape = "named"
	ShapePositional Shape = "positional"
	ShapeUnknown    Shape = "unknown"
)

// Fields is the normalized view of a payload: named-field access over
// either original shape.
type Fields struct {
	Shape Shape
	named map[string]any
	pos   []any
}

// Parse detects the shape of raw and returns a normalized Fields.
//
// Named shape: a JSON object, e.g. {"requester": "...", "action": {...}}.
// Positional shape: a JSON object carrying a "record" array of ordered
// values, e.g. {"record": ["dso-1", "requester-1", ...]}, standing in for
// whatever positional record encoding a real domain wire format would use.
func Parse(raw []byte) (Fields, error) {
	if len(raw) == 0 {
		return Fields{Shape: ShapeUnknown}, nil
	}

	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Fields{Shape: ShapeUnknown}, fmt.Errorf("payload: parse: %w", err)
	}

	if rec, ok := probe["record"]; ok {
		if arr, ok := rec.([]any); ok {
			return Fields{Shape: ShapePositional, pos: arr}, nil
		}
	}
	return Fields{Shape: ShapeNamed, named: probe}, nil
}

// positionalIndex maps a named field to its index in the fixed positional
// ordering named in §4.G.3: {dso, requester, action, reason, vote_before,
// votes, tracking_cid}.
var positionalIndex = map[string]int{
	"dso":          0,
	"requester":    1,
	"action":       2,
	"reason":       3,
	"vote_before":  4,
	"votes":        5,
	"tracking_cid": 6,
}

// Get returns the raw value for a named field, trying the named map
// directly or the fixed positional index, in that order.
func (f Fields) Get(name string) (any, bool) {
	switch f.Shape {
	case ShapeNamed:
		v, ok := f.named[name]
		return v, ok
	case ShapePositional:
		idx, ok := positionalIndex[name]
		if !ok || idx >= len(f.pos) {
			return nil, false
		}
		return f.pos[idx], true
	default:
		return nil, false
	}
}

// extractText returns name's value as a string (not trimmed), handling the
// common JSON shapes a party/text field can arrive in: a bare string, or
// a nested object whose "party", "text", "value" or "id" key (first found,
// in that order) holds a string.
func extractText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]any:
		for _, key := range []string{"party", "text", "value", "id"} {
			if s, ok := t[key].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// ExtractParty returns name's value normalized to a party identifier
// string (§4.H extractParty).
func (f Fields) ExtractParty(name string) (string, bool) {
	v, ok := f.Get(name)
	if !ok {
		return "", false
	}
	return extractText(v)
}

// ExtractText returns name's value normalized to a plain string (§4.H
// extractText).
func (f Fields) ExtractText(name string) (string, bool) {
	v, ok := f.Get(name)
	if !ok {
		return "", false
	}
	return extractText(v)
}

// ExtractInt returns name's value normalized to an int64, handling JSON
// numbers and numeric strings (§4.H extractInt).
func (f Fields) ExtractInt(name string) (int64, bool) {
	v, ok := f.Get(name)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		var n int64
		if _, err := fmt.Sscanf(t, "%d", &n); err == nil {
			return n, true
		}
	case map[string]any:
		if n, ok := t["value"]; ok {
			return Fields{Shape: ShapeNamed, named: map[string]any{"v": n}}.ExtractInt("v")
		}
	}
	return 0, false
}

// ExtractFloat returns name's value normalized to a float64.
func (f Fields) ExtractFloat(name string) (float64, bool) {
	v, ok := f.Get(name)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		var fl float64
		if _, err := fmt.Sscanf(t, "%g", &fl); err == nil {
			return fl, true
		}
	}
	return 0, false
}

// Raw returns the underlying value for name without normalization, for
// callers that need to inspect nested structure themselves (e.g. the vote
// tally object).
func (f Fields) Raw(name string) (any, bool) {
	return f.Get(name)
}
