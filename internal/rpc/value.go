package rpc

import (
	"fmt"
	"strconv"
	"strings"
)

// The msgpack decoder produces int64 or uint64 depending on the wire
// encoding of a number, and maps keyed by either string or any. The helpers
// below normalize those shapes so callers can stay type-agnostic.

// AsInt converts a decoded numeric value to int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// AsString converts a decoded str or bin value to string.
func AsString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// AsBool converts a decoded value to bool.
func AsBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case nil:
		return false, true
	}
	if n, ok := AsInt(v); ok {
		return n != 0, true
	}
	return false, false
}

// AsSlice converts a decoded array to []any.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

// AsMap converts a decoded map to map[string]any.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := AsString(k)
			if !ok {
				key = fmt.Sprint(k)
			}
			out[key] = val
		}
		return out, true
	}
	return nil, false
}

// AsStrings converts a decoded array of strings.
func AsStrings(v any) ([]string, bool) {
	if s, ok := v.([]string); ok {
		return s, true
	}
	arr, ok := AsSlice(v)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := AsString(item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
