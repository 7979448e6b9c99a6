package privacy

import (
	"sort"
	"strings"
)

// span is a half-open byte range in a text.
type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// disjoint reports whether s shares no byte with any claimed span.
func (s span) disjoint(claimed []span) bool {
	for _, c := range claimed {
		if s.overlaps(c) {
			return false
		}
	}
	return true
}

// tokenSpans locates every occurrence of the given tokens in text.
func tokenSpans(text string, tokens []string) []span {
	var spans []span
	for _, token := range tokens {
		for i := 0; i < len(text); {
			j := strings.Index(text[i:], token)
			if j < 0 {
				break
			}
			start := i + j
			spans = append(spans, span{start: start, end: start + len(token)})
			i = start + len(token)
		}
	}
	return spans
}

// gaps returns the parts of [0, size) not covered by claimed, in order.
func gaps(size int, claimed []span) []span {
	sorted := make([]span, len(claimed))
	copy(sorted, claimed)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var out []span
	pos := 0
	for _, c := range sorted {
		if c.start > pos {
			out = append(out, span{start: pos, end: c.start})
		}
		if c.end > pos {
			pos = c.end
		}
	}
	if pos < size {
		out = append(out, span{start: pos, end: size})
	}
	return out
}

// replaceDisjoint replaces every occurrence of value in text with token,
// skipping occurrences that touch a claimed span. It returns the new text and
// the number of replacements made.
func replaceDisjoint(text, value, token string, claimed []span) (string, int) {
	if value == "" {
		return text, 0
	}

	var b strings.Builder
	last, n := 0, 0

	for i := 0; i < len(text); {
		j := strings.Index(text[i:], value)
		if j < 0 {
			break
		}
		s := span{start: i + j, end: i + j + len(value)}
		if !s.disjoint(claimed) {
			i = s.start + 1
			continue
		}
		if n == 0 {
			b.Grow(len(text))
		}
		b.WriteString(text[last:s.start])
		b.WriteString(token)
		last = s.end
		i = s.end
		n++
	}

	if n == 0 {
		return text, 0
	}
	b.WriteString(text[last:])
	return b.String(), n
}
