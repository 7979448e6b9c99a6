package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawValues(d Detection) []string {
	out := make([]string, 0, len(d.Matches))
	for _, m := range d.Matches {
		out = append(out, m.RawValue)
	}
	return out
}

func TestDefaultPatterns(t *testing.T) {
	tests := []struct {
		name  string
		class string
		input string
		want  []string
	}{
		{"email", ClassEmail, "write to jane.doe-x@mail.example.org today", []string{"jane.doe-x@mail.example.org"}},
		{"email unicode", ClassEmail, "ayşe@örnek.com", []string{"ayşe@örnek.com"}},
		{"url http", ClassURL, "visit http://www.google.com now", []string{"http://www.google.com"}},
		{"url https path", ClassURL, "see https://a.io/x?y=1#z", []string{"https://a.io/x?y=1#z"}},
		{"url needs scheme", ClassURL, "www.google.com", nil},
		{"phone 4-3-2-2", ClassPhoneNumber, "tel 0532 123 45 67", []string{"0532 123 45 67"}},
		{"phone 4-3-4", ClassPhoneNumber, "tel 0212 555 1234", []string{"0212 555 1234"}},
		{"phone 1-3-3-1-3", ClassPhoneNumber, "tel 0 532 123 4 567", []string{"0 532 123 4 567"}},
		{"phone 1-3-3-2-2", ClassPhoneNumber, "tel 0 532 123 45 67", []string{"0 532 123 45 67"}},
		{"phone not glued digits", ClassPhoneNumber, "05321234567", nil},
		{"card", ClassCreditCard, "card 4111 1111 1111 1111.", []string{"4111 1111 1111 1111"}},
		{"card needs single spaces", ClassCreditCard, "4111  1111 1111 1111", nil},
	}

	classes := make(map[string]*EntityClass)
	for _, c := range DefaultClasses() {
		classes[c.Name()] = c
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detections := Detect(tt.input, []*EntityClass{classes[tt.class]})
			require.Len(t, detections, 1)
			got := rawValues(detections[0])
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCardIsNotAPhone(t *testing.T) {
	detections := Detect("1234 1234 1234 1234", DefaultClasses())
	require.Len(t, detections, 4)

	assert.Empty(t, detections[2].Matches, "phone_number")
	assert.Equal(t, []string{"1234 1234 1234 1234"}, rawValues(detections[3]))
}

func TestDetectKeepsRepeatsInOrder(t *testing.T) {
	detections := Detect("Mail A@B.com or a@b.com, card 1111 2222 3333 4444", DefaultClasses())
	require.Len(t, detections, 4)

	assert.Equal(t, ClassEmail, detections[0].EntityClass)
	require.Len(t, detections[0].Matches, 2)
	assert.Equal(t, "a@b.com", detections[0].Matches[0].RawValue)
	assert.Equal(t, 0, detections[0].Matches[0].OccurrenceOrder)
	assert.Equal(t, "a@b.com", detections[0].Matches[1].RawValue)
	assert.Equal(t, 1, detections[0].Matches[1].OccurrenceOrder)

	assert.Empty(t, detections[1].Matches)
	assert.Empty(t, detections[2].Matches)
	assert.Equal(t, []string{"1111 2222 3333 4444"}, rawValues(detections[3]))
}

func TestDetectEarlierClassClaimsSpan(t *testing.T) {
	digits := MustEntityClass("digits", `\d+`, "NUM_MASK")
	card := MustEntityClass("card", `\b\d{4} \d{4} \d{4} \d{4}\b`, "CARD_MASK")

	detections := Detect("1234 5678 1234 5678 and 9", []*EntityClass{card, digits})
	assert.Equal(t, []string{"1234 5678 1234 5678"}, rawValues(detections[0]))
	assert.Equal(t, []string{"9"}, rawValues(detections[1]))

	detections = Detect("1234 5678 1234 5678 and 9", []*EntityClass{digits, card})
	assert.Equal(t, []string{"1234", "5678", "1234", "5678", "9"}, rawValues(detections[0]))
	assert.Empty(t, detections[1].Matches)
}

func TestDetectNoClasses(t *testing.T) {
	assert.Empty(t, Detect("a@b.com", nil))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"Hello WORLD", "hello world"},
		{"İSTANBUL", "istanbul"},
		{"İzmir ve Iğdır", "izmir ve iğdır"},
		{"ÇAĞRI ÖZ", "çağri öz"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.input), "input %q", tt.input)
	}
}

func TestNewEntityClass(t *testing.T) {
	c, err := NewEntityClass("national_id", `\b\d{11}\b`, "NATIONAL_ID_MASK")
	require.NoError(t, err)
	assert.Equal(t, "national_id", c.Name())
	assert.Equal(t, `\b\d{11}\b`, c.Pattern())
	assert.Equal(t, "NATIONAL_ID_MASK", c.PlaceholderTag())
	assert.Equal(t, "[NATIONAL_ID_MASK_s_2]", c.Token("s", 2))

	invalid := []struct {
		name, pattern, tag string
	}{
		{"", `x`, "X"},
		{"x", `x`, ""},
		{"x", `x`, "X]"},
		{"x", `x`, "A B"},
		{"x", ``, "X"},
		{"x", `(`, "X"},
		{"x", `x`, "tok"},
		{"x", `x`, "123_"},
	}
	for _, tt := range invalid {
		_, err := NewEntityClass(tt.name, tt.pattern, tt.tag)
		assert.Error(t, err, "%+v", tt)
	}

	assert.Panics(t, func() { MustEntityClass("x", `(`, "X") })
}

func TestValidateClasses(t *testing.T) {
	assert.NoError(t, ValidateClasses(DefaultClasses()))

	dupName := append(DefaultClasses(), MustEntityClass(ClassEmail, `x`, "OTHER_MASK"))
	assert.Error(t, ValidateClasses(dupName))

	dupTag := append(DefaultClasses(), MustEntityClass("other", `x`, "EMAIL_MASK"))
	assert.Error(t, ValidateClasses(dupTag))

	assert.Error(t, ValidateClasses([]*EntityClass{nil}))
}

func TestUnmatchedPatternIsNotAnError(t *testing.T) {
	never := MustEntityClass("never", `\bzzzzqqq\b`, "NEVER_MASK")

	masked, mm := Mask("plain text", []*EntityClass{never}, "")
	assert.Equal(t, "plain text", masked)
	assert.Equal(t, MaskMap{"never": {}}, mm)
}
