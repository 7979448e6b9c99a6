package privacy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Built-in entity class names.
const (
	ClassEmail       = "email"
	ClassURL         = "url"
	ClassPhoneNumber = "phone_number"
	ClassCreditCard  = "credit_card"
)

var builtinClasses = []struct {
	name    string
	pattern string
	tag     string
}{
	{ClassEmail, `[\p{L}\p{N}_.\-]+@[\p{L}\p{N}_.\-]+`, "EMAIL_MASK"},
	{ClassURL, `https?://\S+`, "URL_MASK"},
	{ClassPhoneNumber, `\b(?:\d{4}\s\d{3}\s\d{2}\s\d{2}|\d{4}\s\d{3}\s\d{4}|\d\s\d{3}\s\d{3}\s\d\s\d{3}|\d\s\d{3}\s\d{3}\s\d{2}\s\d{2})\b`, "PHONE_NUMBER_MASK"},
	{ClassCreditCard, `\b\d{4} \d{4} \d{4} \d{4}\b`, "CREDIT_CARD_MASK"},
}

// NewEntityClass compiles pattern and returns an immutable entity class.
func NewEntityClass(name, pattern, placeholderTag string) (*EntityClass, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("entity class name is required")
	}
	if strings.TrimSpace(placeholderTag) == "" {
		return nil, fmt.Errorf("entity class %s: placeholder tag is required", name)
	}
	if strings.ContainsAny(placeholderTag, "[] \t\r\n") {
		return nil, fmt.Errorf("entity class %s: placeholder tag %q contains brackets or whitespace", name, placeholderTag)
	}
	// masked text is lowercased, so a tag without uppercase letters could
	// already be present in it
	if Normalize(placeholderTag) == placeholderTag {
		return nil, fmt.Errorf("entity class %s: placeholder tag %q must contain an uppercase letter", name, placeholderTag)
	}
	if pattern == "" {
		return nil, fmt.Errorf("entity class %s: pattern is required", name)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("entity class %s: invalid pattern: %w", name, err)
	}

	return &EntityClass{name: name, pattern: re, tag: placeholderTag}, nil
}

// MustEntityClass is like NewEntityClass but panics on error.
func MustEntityClass(name, pattern, placeholderTag string) *EntityClass {
	c, err := NewEntityClass(name, pattern, placeholderTag)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultClasses returns the built-in classes in their processing order:
// email, url, phone_number, credit_card.
func DefaultClasses() []*EntityClass {
	classes := make([]*EntityClass, 0, len(builtinClasses))
	for _, b := range builtinClasses {
		classes = append(classes, MustEntityClass(b.name, b.pattern, b.tag))
	}
	return classes
}

// DefaultClassNames returns the names of the built-in classes in order.
func DefaultClassNames() []string {
	names := make([]string, 0, len(builtinClasses))
	for _, b := range builtinClasses {
		names = append(names, b.name)
	}
	return names
}

// ValidateClasses rejects class lists with duplicate names or placeholder
// tags. Distinct tags keep tokens unique across classes.
func ValidateClasses(classes []*EntityClass) error {
	names := make(map[string]bool, len(classes))
	tags := make(map[string]string, len(classes))

	for _, c := range classes {
		if c == nil {
			return fmt.Errorf("nil entity class")
		}
		if names[c.name] {
			return fmt.Errorf("duplicate entity class: %s", c.name)
		}
		names[c.name] = true

		if other, ok := tags[c.tag]; ok {
			return fmt.Errorf("entity classes %s and %s share placeholder tag %s", other, c.name, c.tag)
		}
		tags[c.tag] = c.name
	}

	return nil
}

// Token returns the placeholder token for the index-th distinct value of the
// class within scope.
func (c *EntityClass) Token(scope string, index int) string {
	return "[" + c.tag + "_" + scope + "_" + strconv.Itoa(index) + "]"
}

// find returns the byte spans of pattern matches in the parts of text not
// covered by an already placed token. Each gap is matched on its own, so a
// match can neither enter a token nor enclose one.
func (c *EntityClass) find(text string, claimed []span) []span {
	var out []span
	for _, g := range gaps(len(text), claimed) {
		for _, loc := range c.pattern.FindAllStringIndex(text[g.start:g.end], -1) {
			if loc[0] == loc[1] {
				continue
			}
			out = append(out, span{start: g.start + loc[0], end: g.start + loc[1]})
		}
	}
	return out
}
