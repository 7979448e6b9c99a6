package privacy

import (
	"regexp"
	"sort"
)

// EntityClass is a named category of sensitive data. It is immutable once
// built by NewEntityClass and safe to share between goroutines.
type EntityClass struct {
	name    string
	pattern *regexp.Regexp
	tag     string
}

// Name returns the class identifier, e.g. "email".
func (c *EntityClass) Name() string { return c.name }

// Pattern returns the source of the class pattern.
func (c *EntityClass) Pattern() string { return c.pattern.String() }

// PlaceholderTag returns the prefix embedded in generated tokens.
func (c *EntityClass) PlaceholderTag() string { return c.tag }

// Match is one occurrence of an entity class in a text.
type Match struct {
	EntityClass     string `json:"entityClass"`
	RawValue        string `json:"-"`
	OccurrenceOrder int    `json:"occurrenceOrder"`
}

// Detection groups the matches of a single class.
type Detection struct {
	EntityClass string
	Matches     []Match
}

// MaskMap maps entity class name to raw value to placeholder token.
type MaskMap map[string]map[string]string

// Len returns the number of distinct masked values across all classes.
func (m MaskMap) Len() int {
	n := 0
	for _, values := range m {
		n += len(values)
	}
	return n
}

// Tokens returns every token in the map, sorted.
func (m MaskMap) Tokens() []string {
	tokens := make([]string, 0, m.Len())
	for _, values := range m {
		for _, token := range values {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens
}

// Counts returns the number of distinct masked values per class.
func (m MaskMap) Counts() map[string]int {
	counts := make(map[string]int, len(m))
	for class, values := range m {
		counts[class] = len(values)
	}
	return counts
}

// Clone returns a deep copy of the map.
func (m MaskMap) Clone() MaskMap {
	out := make(MaskMap, len(m))
	for class, values := range m {
		cp := make(map[string]string, len(values))
		for raw, token := range values {
			cp[raw] = token
		}
		out[class] = cp
	}
	return out
}

// Finding summarizes what one masking call did for one class. It never
// carries raw values.
type Finding struct {
	EntityType  string `json:"entityType"`
	Tokens      int    `json:"tokens"`
	Occurrences int    `json:"occurrences"`
}

// Result contains the result of masking a text
type Result struct {
	MaskedText string    `json:"maskedText"`
	MaskMap    MaskMap   `json:"maskMap"`
	Findings   []Finding `json:"findings"`
}

// UnmaskResult contains the result of restoring a text
type UnmaskResult struct {
	Text       string   `json:"text"`
	Unresolved []string `json:"unresolved"`
}
