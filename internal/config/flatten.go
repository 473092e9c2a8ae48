package config

import "strings"

// secretKeys are the dot-separated keys whose values are never printed.
var secretKeys = map[string]bool{
	"llm.api_key":   true,
	"brave.api_key": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested JSON objects into one level of dot-separated keys:
// {"llm": {"model": "x"}} becomes {"llm.model": "x"}. Empty objects vanish.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar sitting where a key needs an
// object is replaced by the object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		parent := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := parent[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				parent[part] = child
			}
			parent = child
		}
		parent[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets returns a copy of flat where non-empty secret strings keep
// only their last four characters, e.g. "***abcd".
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && secretKeys[k] && s != "" {
			v = mask(s)
		}
		out[k] = v
	}
	return out
}

func mask(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}
