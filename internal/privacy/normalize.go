package privacy

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// dottedCapitalI is the Turkish capital I with dot above. Full Unicode
// lowercasing turns it into "i" plus a combining dot, which no pattern
// expects, so it is collapsed to a plain "i" first.
const dottedCapitalI = "İ"

// Normalize applies the casing policy used before detection. The result is
// lowercase; original casing is not recoverable by Unmask.
func Normalize(text string) string {
	if text == "" {
		return text
	}
	text = strings.ReplaceAll(text, dottedCapitalI, "i")
	// cases.Caser keeps state and is not safe for concurrent use.
	return cases.Lower(language.Und).String(text)
}
