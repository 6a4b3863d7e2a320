// Package models defines the data model shared by the Origami packages.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DataPacket is one unit of decoded telemetry for a domain.
type DataPacket struct {
	ID        string    `json:"id" yaml:"id"`
	DomainID  string    `json:"domain_id" yaml:"domain_id"`
	DataType  string    `json:"data_type" yaml:"data_type"`
	SourceID  string    `json:"source_id" yaml:"source_id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// Payload is already decoded by the ingestion layer, usually a map[string]any.
	Payload any `json:"payload" yaml:"payload"`
}

// Fields is a decoded payload object with lenient typed accessors.
type Fields map[string]any

// AsFields returns the packet payload as Fields. The second result is false when
// the payload is not an object.
func AsFields(payload any) (Fields, bool) {
	switch v := payload.(type) {
	case Fields:
		return v, true
	case map[string]any:
		return Fields(v), true
	case map[string]string:
		f := make(Fields, len(v))
		for k, s := range v {
			f[k] = s
		}
		return f, true
	default:
		return nil, false
	}
}

// Has reports whether key is present.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// String returns the value at key as a string.
func (f Fields) String(key string) string {
	val, ok := f[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the value at key as float64. Numeric strings are accepted.
// The second result is false when the key is absent or not numeric.
func (f Fields) Float(key string) (float64, bool) {
	val, ok := f[key]
	if !ok {
		return 0, false
	}
	return toFloat(val)
}

// Number is Float for engines that must tell an absent reading from an
// unreadable one. A missing key, nil or empty string is absent; any other
// value that is not numeric is an error.
func (f Fields) Number(key string) (float64, bool, error) {
	val, ok := f[key]
	if !ok || val == nil || val == "" {
		return 0, false, nil
	}
	n, ok := toFloat(val)
	if !ok {
		return 0, false, fmt.Errorf("%s: %v is not a number", key, val)
	}
	return n, true, nil
}

// FloatOr returns the value at key or def when absent or not numeric.
func (f Fields) FloatOr(key string, def float64) float64 {
	if v, ok := f.Float(key); ok {
		return v
	}
	return def
}

// Bool returns the value at key as bool. Strings "true"/"1"/"yes" are true.
func (f Fields) Bool(key string) bool {
	val, ok := f[key]
	if !ok {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y":
			return true
		}
		return false
	default:
		n, ok := toFloat(v)
		return ok && n != 0
	}
}

// Time returns the value at key as a time. RFC 3339 strings and time.Time
// values are accepted.
func (f Fields) Time(key string) (time.Time, bool) {
	val, ok := f[key]
	if !ok || val == nil {
		return time.Time{}, false
	}
	switch v := val.(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		if v == "" {
			return time.Time{}, false
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// Timestamp is Time with the same absent/unreadable split as Number.
func (f Fields) Timestamp(key string) (time.Time, bool, error) {
	val, ok := f[key]
	if !ok || val == nil || val == "" {
		return time.Time{}, false, nil
	}
	t, ok := f.Time(key)
	if !ok {
		return time.Time{}, false, fmt.Errorf("%s: %v is not an RFC 3339 time", key, val)
	}
	return t, true, nil
}

// Object returns a nested object at key.
func (f Fields) Object(key string) (Fields, bool) {
	val, ok := f[key]
	if !ok {
		return nil, false
	}
	return AsFields(val)
}

// List returns a nested list of objects at key. Elements that are not objects
// are skipped.
func (f Fields) List(key string) ([]Fields, bool) {
	val, ok := f[key]
	if !ok {
		return nil, false
	}
	raw, ok := val.([]any)
	if !ok {
		if typed, ok := val.([]map[string]any); ok {
			out := make([]Fields, 0, len(typed))
			for _, m := range typed {
				out = append(out, Fields(m))
			}
			return out, true
		}
		return nil, false
	}
	out := make([]Fields, 0, len(raw))
	for _, item := range raw {
		if obj, ok := AsFields(item); ok {
			out = append(out, obj)
		}
	}
	return out, true
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
