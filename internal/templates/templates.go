// Package templates resolves user-facing text from operator-supplied
// messages, falling back to built-in defaults. Placeholders are written
// %name% and substituted from a value map.
package templates

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// Catalog is safe for concurrent use. Replace swaps the whole message set,
// e.g. after the config file is reloaded.
type Catalog struct {
	mu       sync.RWMutex
	messages map[string]string
	lines    map[string][]string
}

// New builds a catalog from single-line messages and multi-line blocks.
func New(messages map[string]string, lines map[string][]string) *Catalog {
	c := &Catalog{}
	c.Replace(messages, lines)
	return c
}

// Replace swaps in a new message set.
func (c *Catalog) Replace(messages map[string]string, lines map[string][]string) {
	msgs := maps.Clone(messages)
	if msgs == nil {
		msgs = map[string]string{}
	}
	blocks := make(map[string][]string, len(lines))
	for key, block := range lines {
		blocks[key] = slices.Clone(block)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = msgs
	c.lines = blocks
}

// Render returns the message for key, or fallback when none is configured,
// with every %name% replaced by values[name]. Unknown placeholders are left
// as written.
func (c *Catalog) Render(key, fallback string, values map[string]string) string {
	c.mu.RLock()
	text, ok := c.messages[key]
	c.mu.RUnlock()
	if !ok {
		text = fallback
	}
	return Substitute(text, values)
}

// Lines returns the configured block for key, or a copy of fallback.
func (c *Catalog) Lines(key string, fallback []string) []string {
	c.mu.RLock()
	block, ok := c.lines[key]
	c.mu.RUnlock()
	if !ok {
		return slices.Clone(fallback)
	}
	return slices.Clone(block)
}

// Substitute replaces %name% placeholders in text.
func Substitute(text string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(text, "%") {
		return text
	}
	keys := slices.Sorted(maps.Keys(values))
	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, "%"+key+"%", values[key])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
