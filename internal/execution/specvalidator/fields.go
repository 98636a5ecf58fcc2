package specvalidator

import (
	"fmt"
	"strings"
)

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

// lookup returns the first present key among aliases.
func lookup(m map[string]any, keys ...string) (any, string, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v, key, true
		}
	}
	return nil, "", false
}

func stringValue(m map[string]any, keys ...string) string {
	v, _, ok := lookup(m, keys...)
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return strings.TrimSpace(s)
}

// scriptValue accepts a single command string or a list of command strings.
func scriptValue(job string, v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		if strings.TrimSpace(s) == "" {
			return []string{}, nil
		}
		return []string{s}, nil
	}
	list, ok := asList(v)
	if !ok {
		return nil, invalid("job %q: 'script' must be a string or a list of strings", job)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		line, ok := item.(string)
		if !ok {
			return nil, invalid("job %q: 'script' must be a string or a list of strings", job)
		}
		out = append(out, line)
	}
	return out, nil
}

// boolValue accepts booleans and case-insensitive "true"/"false" strings.
// A key that is present with a null value is an error, not false.
func boolValue(job, key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, invalid("job %q: '%s' must be a boolean", job, key)
}

func stringListValue(job, key string, v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return []string{strings.TrimSpace(s)}, nil
	}
	list, ok := asList(v)
	if !ok {
		return nil, invalid("job %q: '%s' must be a list of strings", job, key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, invalid("job %q: '%s' must be a list of strings", job, key)
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}
