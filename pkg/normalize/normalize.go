// Package normalize converts raw platform payloads into domain entities.
// The platform ships no schema, so every assumption about payload shape is
// asserted here; a mismatch aborts the record with a drift error instead of
// persisting a silently wrong row.
package normalize

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	errs "github.com/baohengtao/redbook/pkg/errors"
)

// MergeDisjoint merges src into dst, allowing overlapping keys only when
// both sides carry the same value. A conflicting overlap means two payload
// groups disagree about the same field, which is drift.
func MergeDisjoint(dst, src map[string]interface{}, url string) error {
	for k, v := range src {
		if existing, ok := dst[k]; ok && !reflect.DeepEqual(existing, v) {
			return &errs.SchemaDriftError{
				URL:    url,
				Key:    k,
				Detail: fmt.Sprintf("conflicting values %v and %v", existing, v),
			}
		}
		dst[k] = v
	}
	return nil
}

// ParseCount coerces the platform's engagement counters to integers. They
// arrive as JSON numbers or as localized strings like "3456", "10万" or
// "1.2亿".
func ParseCount(v interface{}) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, nil
		}
		multiplier := 1.0
		switch {
		case strings.HasSuffix(s, "亿"):
			multiplier = 1e8
			s = strings.TrimSuffix(s, "亿")
		case strings.HasSuffix(s, "万"):
			multiplier = 1e4
			s = strings.TrimSuffix(s, "万")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable count %q", n)
		}
		return int(math.Round(f * multiplier)), nil
	default:
		return 0, fmt.Errorf("count has unexpected type %T", v)
	}
}

// popString removes key from m and returns its trimmed string value.
// Missing keys and empty strings return "".
func popString(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	delete(m, key)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// popMap removes key from m and returns it as a nested object, or nil
func popMap(m map[string]interface{}, key string) map[string]interface{} {
	v, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	nested, _ := v.(map[string]interface{})
	return nested
}

// popList removes key from m and returns it as a list of objects, or nil
func popList(m map[string]interface{}, key string) []interface{} {
	v, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	list, _ := v.([]interface{})
	return list
}

// popBool removes key from m and returns its boolean value
func popBool(m map[string]interface{}, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	delete(m, key)
	b, _ := v.(bool)
	return b
}

// popCount removes key from m and coerces it with ParseCount
func popCount(m map[string]interface{}, key, url string) (int, error) {
	v, ok := m[key]
	if !ok {
		return 0, nil
	}
	delete(m, key)
	n, err := ParseCount(v)
	if err != nil {
		return 0, &errs.SchemaDriftError{URL: url, Key: key, Detail: err.Error()}
	}
	return n, nil
}

// stripQuery drops everything from the first '?' in a URL
func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// compact strips string values in place and drops keys whose value became
// empty, so leftover payload fields stay tidy when stashed as extras.
func compact(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		switch s := v.(type) {
		case string:
			s = strings.TrimSpace(s)
			if s == "" {
				delete(m, k)
			} else {
				m[k] = s
			}
		case nil:
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
