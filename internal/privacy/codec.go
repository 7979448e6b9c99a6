package privacy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Mask normalizes text and replaces every value matched by the classes with a
// placeholder token of the form [<tag>_<scope>_<index>].
//
// Classes are processed in order against the progressively rewritten text.
// Within a class, index counts distinct raw values by first appearance, and
// each value is replaced everywhere it occurs. The returned map holds an entry
// for every class, empty when nothing matched.
//
// Replacement is literal, so when one matched value contains another the one
// processed first (earlier class, then earlier appearance) wins the shared
// substring. A value whose occurrences were all consumed that way gets no
// token. Later classes only match the text between placed tokens, so every
// token in the map appears in the output.
func Mask(text string, classes []*EntityClass, scope string) (string, MaskMap) {
	masked, mm, _, _ := mask(text, classes, scope)
	return masked, mm
}

// mask is Mask plus the per-class matches it acted on and the number of
// replacements made per class.
func mask(text string, classes []*EntityClass, scope string) (string, MaskMap, []Detection, map[string]int) {
	masked := Normalize(text)
	mm := make(MaskMap, len(classes))
	detections := make([]Detection, 0, len(classes))
	replaced := make(map[string]int, len(classes))

	var placed []string

	for _, class := range classes {
		values := make(map[string]string)
		mm[class.name] = values

		spans := class.find(masked, tokenSpans(masked, placed))

		// spans index the text before this class rewrites it
		raws := make([]string, len(spans))
		matches := make([]Match, len(spans))
		for i, s := range spans {
			raws[i] = masked[s.start:s.end]
			matches[i] = Match{EntityClass: class.name, RawValue: raws[i], OccurrenceOrder: i}
		}
		detections = append(detections, Detection{EntityClass: class.name, Matches: matches})

		consumed := make(map[string]bool)
		for _, raw := range raws {
			if _, ok := values[raw]; ok || consumed[raw] {
				continue
			}

			token := class.Token(scope, len(values))
			next, n := replaceDisjoint(masked, raw, token, tokenSpans(masked, placed))
			if n == 0 {
				consumed[raw] = true
				continue
			}

			masked = next
			values[raw] = token
			placed = append(placed, token)
			replaced[class.name] += n
		}
	}

	return masked, mm, detections, replaced
}

// Unmask replaces every token recorded in mm with its raw value. Tokens not in
// the map are left untouched.
func Unmask(text string, mm MaskMap) string {
	return UnmaskAll(text, mm)
}

// UnmaskAll restores tokens from several maps at once, for example one per
// conversation turn. When two maps record the same token the earlier map wins.
//
// Substitution is a single pass with the longest token tried first at each
// position, and restored values are never rescanned.
func UnmaskAll(text string, maps ...MaskMap) string {
	pairs := make(map[string]string)
	for _, mm := range maps {
		for _, values := range mm {
			for raw, token := range values {
				if token == "" {
					continue
				}
				if _, ok := pairs[token]; !ok {
					pairs[token] = raw
				}
			}
		}
	}
	return restore(text, pairs)
}

func restore(text string, pairs map[string]string) string {
	if text == "" || len(pairs) == 0 {
		return text
	}

	tokens := make([]string, 0, len(pairs))
	for token := range pairs {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})

	oldnew := make([]string, 0, 2*len(tokens))
	for _, token := range tokens {
		oldnew = append(oldnew, token, pairs[token])
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}

// ValidateScope reports whether scope can be embedded in a token without
// breaking its bracketed shape.
func ValidateScope(scope string) error {
	if strings.ContainsAny(scope, "[] \t\r\n") {
		return fmt.Errorf("scope %q must not contain brackets or whitespace", scope)
	}
	return nil
}

// tokenPattern matches any token shaped like one produced for classes.
func tokenPattern(classes []*EntityClass) *regexp.Regexp {
	if len(classes) == 0 {
		return nil
	}
	tags := make([]string, 0, len(classes))
	for _, c := range classes {
		tags = append(tags, regexp.QuoteMeta(c.tag))
	}
	return regexp.MustCompile(`\[(?:` + strings.Join(tags, "|") + `)_[^\[\]\s]*_\d+\]`)
}

// UnresolvedTokens lists, in order of first appearance, the tokens for the
// given classes still present in text. After Unmask these point at tokens the
// generation step invented or mangled.
func UnresolvedTokens(text string, classes []*EntityClass) []string {
	return findTokens(tokenPattern(classes), text)
}

func findTokens(re *regexp.Regexp, text string) []string {
	if re == nil || text == "" {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, token := range re.FindAllString(text, -1) {
		if seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	return out
}
