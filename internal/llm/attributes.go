package llm

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kalambet/threadattrs/internal/storage"
)

// Attributes is a string map that remembers insertion order. The zero value
// is empty and ready to use.
type Attributes struct {
	m *orderedmap.OrderedMap[string, string]
}

// Set stores value under key. A key seen before keeps its position.
func (a *Attributes) Set(key, value string) {
	if a.m == nil {
		a.m = orderedmap.New[string, string]()
	}
	a.m.Set(key, value)
}

// Get returns the value for key.
func (a *Attributes) Get(key string) (string, bool) {
	if a.m == nil {
		return "", false
	}
	return a.m.Get(key)
}

// Len returns the number of keys.
func (a *Attributes) Len() int {
	if a.m == nil {
		return 0
	}
	return a.m.Len()
}

// Keys returns the keys in insertion order.
func (a *Attributes) Keys() []string {
	keys := make([]string, 0, a.Len())
	for _, p := range a.Pairs() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Pairs returns the entries in insertion order.
func (a *Attributes) Pairs() []storage.Attribute {
	out := make([]storage.Attribute, 0, a.Len())
	if a.m == nil {
		return out
	}
	for p := a.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, storage.Attribute{Key: p.Key, Value: p.Value})
	}
	return out
}

// MarshalJSON encodes the map as an object in insertion order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	if a.m == nil {
		return []byte("{}"), nil
	}
	return a.m.MarshalJSON()
}

// UnmarshalJSON decodes an object of strings, keeping document order.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, string]()
	if err := m.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("attributes: %w", err)
	}
	a.m = m
	return nil
}

// ParseAttributes reads "key: value" lines. Each line containing a colon is
// split at the first colon and both halves trimmed; other lines are skipped.
// A repeated key keeps its first position and takes the last value.
func ParseAttributes(content string) Attributes {
	var attrs Attributes
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		attrs.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return attrs
}
