package privacy

import (
	"strings"
)

// PlaceholderInstructions renders the human-readable token list handed to the
// generation service together with the masked text. It returns "" when the
// map holds no tokens.
func PlaceholderInstructions(mm MaskMap) string {
	tokens := mm.Tokens()
	if len(tokens) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("The text contains placeholder tokens that stand for redacted values. ")
	b.WriteString("Treat every bracketed token as an opaque literal: copy it exactly as written when you refer to it, ")
	b.WriteString("never translate, reformat or invent tokens.\n")
	b.WriteString("Tokens in use:\n")
	for _, token := range tokens {
		b.WriteString("- ")
		b.WriteString(token)
		b.WriteString("\n")
	}
	return b.String()
}
