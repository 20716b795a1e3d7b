// Package environment maps short environment codes to canonical names and
// defines their report ordering.
package environment

import (
	"sort"
)

// NotApplicable is both the short code and the canonical name used when a
// server carries no environment segment.
const NotApplicable = "n/a"

// Entry pairs a short environment code with its canonical name
type Entry struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// DefaultEntries lists the standard environments in report order
var DefaultEntries = []Entry{
	{Code: "prd", Name: "production"},
	{Code: "stg", Name: "stage"},
	{Code: "dev", Name: "development"},
	{Code: NotApplicable, Name: NotApplicable},
}

// Canonicalizer maps short codes to canonical names and orders canonical names.
// A Canonicalizer is immutable once built and safe for concurrent use.
type Canonicalizer struct {
	names    map[string]string
	position map[string]int
	order    []string
}

// Default is the canonicalizer built from DefaultEntries
var Default = New(DefaultEntries)

// New builds a canonicalizer from an ordered entry list. The first entry
// sorts first. Later duplicates of a code or name are ignored.
func New(entries []Entry) *Canonicalizer {
	c := &Canonicalizer{
		names:    make(map[string]string, len(entries)),
		position: make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, exists := c.names[e.Code]; !exists {
			c.names[e.Code] = e.Name
		}
		if _, exists := c.position[e.Name]; !exists {
			c.position[e.Name] = len(c.order)
			c.order = append(c.order, e.Name)
		}
	}
	return c
}

// Canonicalize returns the canonical name for a short code. Unknown codes
// pass through unchanged.
func (c *Canonicalizer) Canonicalize(code string) string {
	if name, ok := c.names[code]; ok {
		return name
	}
	return code
}

// Order returns the canonical names in report order
func (c *Canonicalizer) Order() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Known reports whether name is one of the canonical names
func (c *Canonicalizer) Known(name string) bool {
	_, ok := c.position[name]
	return ok
}

// Key is the sort key of a canonical name. Known names carry their list
// position; unknown names share a position past the end of the list and
// fall back to their literal name.
type Key struct {
	Unknown  bool
	Position int
	Name     string
}

// Less orders keys: known before unknown, then by position, then by name.
func (k Key) Less(o Key) bool {
	if k.Unknown != o.Unknown {
		return !k.Unknown
	}
	if k.Position != o.Position {
		return k.Position < o.Position
	}
	return k.Name < o.Name
}

// Key returns the sort key for a canonical name
func (c *Canonicalizer) Key(name string) Key {
	if pos, ok := c.position[name]; ok {
		return Key{Position: pos, Name: name}
	}
	return Key{Unknown: true, Position: len(c.order), Name: name}
}

// Less reports whether canonical name a sorts before b
func (c *Canonicalizer) Less(a, b string) bool {
	return c.Key(a).Less(c.Key(b))
}

// Compare returns -1, 0 or 1 following Less
func (c *Canonicalizer) Compare(a, b string) int {
	switch {
	case c.Less(a, b):
		return -1
	case c.Less(b, a):
		return 1
	default:
		return 0
	}
}

// Sort orders canonical names in place
func (c *Canonicalizer) Sort(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return c.Less(names[i], names[j])
	})
}
