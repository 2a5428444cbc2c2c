package scoring

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		fieldType string
		expected  float64
	}{
		{"no field type", "anything", "", 0.7},
		{"date slash", "12/03/2024", "date", 1.0},
		{"date iso", "2024-03-12", "date", 1.0},
		{"date words", "12 March 2024", "date", 1.0},
		{"date uppercase type", "12/03/24", "DATE", 1.0},
		{"date invalid", "tomorrow", "date", 0.3},
		{"phone", "98765 43210", "phone", 1.0},
		{"phone dashes", "987-654-3210", "phone", 1.0},
		{"phone short", "12345", "phone", 0.2},
		{"amount plain", " 1500.50 ", "amount", 1.0},
		{"amount currency", "₹ 1500", "amount", 0.9},
		{"amount dollar", "$20", "amount", 0.9},
		{"amount text", "fifteen hundred", "amount", 0.4},
		{"name", "Asha Verma", "name", 1.0},
		{"name with digits", "Asha 2", "name", 0.5},
		{"address", "14 MG Road", "address", 1.0},
		{"address nagar", "Shastri Nagar", "address", 1.0},
		{"address unknown", "Block 4", "address", 0.5},
		{"phone devanagari", "९८७६५ ४३२१०", "phone", 1.0},
		{"date devanagari", "१२/०३/२०२४", "date", 1.0},
		{"date hindi month", "१२ मार्च २०२४", "date", 1.0},
		{"amount devanagari", "१५००.५०", "amount", 1.0},
		{"amount rupee devanagari", "₹ १५००", "amount", 0.9},
		{"name with tamil digit", "Asha ௨", "name", 0.5},
		{"other", "x", "other", 0.7},
		{"unknown type", "x", "vin", 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidatePattern(tt.text, tt.fieldType))
		})
	}
}

// devanagari rewrites ASCII digits as Devanagari numerals.
func devanagari(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '०' + (r - '0')
		}
		return r
	}, s)
}

func TestValidatePattern_DigitScriptParity(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("devanagari digits score like ascii digits", prop.ForAll(
		func(digits, fieldType string) bool {
			for _, text := range []string{digits, digits[:2] + "/" + digits[2:4] + "/" + digits[4:8], "₹ " + digits} {
				if ValidatePattern(text, fieldType) != ValidatePattern(devanagari(text), fieldType) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(10, gen.NumChar()).Map(func(rs []rune) string { return string(rs) }),
		gen.OneConstOf(FieldDate, FieldPhone, FieldAmount, FieldName),
	))

	properties.TestingRun(t)
}
