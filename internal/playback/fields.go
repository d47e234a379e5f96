package playback

import (
	"math"
	"strconv"
	"strings"
)

// Accessors over decoded JSON. Numbers may arrive as json.Number (UseNumber),
// float64, or quoted strings depending on the sender.

type numberLike interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

func obj(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v, true
		}
	}
	return nil, false
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case numberLike:
			if s, ok := v.(interface{ String() string }); ok {
				return s.String()
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case numberLike:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// integer reads an integral value without float rounding for large tick counts.
func integer(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case numberLike:
			if i, err := v.Int64(); err == nil {
				return i, true
			}
			if f, err := v.Float64(); err == nil && !math.IsNaN(f) {
				return int64(f), true
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return i, true
			}
		}
		if f, ok := num(m, k); ok {
			return int64(f), true
		}
	}
	return 0, false
}

func intOr0(m map[string]any, keys ...string) int {
	i, _ := integer(m, keys...)
	return int(i)
}

func boolean(m map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		}
	}
	return false, false
}

func ptr[T any](v T) *T { return &v }
