package scoring

import (
	"regexp"
	"strings"
)

// Field types understood by ValidatePattern.
const (
	FieldDate    = "date"
	FieldPhone   = "phone"
	FieldAmount  = "amount"
	FieldName    = "name"
	FieldAddress = "address"
	FieldOther   = "other"
)

// defaultPatternScore is used for generic text and unknown field types.
const defaultPatternScore = 0.7

// Digits are matched with \p{Nd} so Devanagari and other Indic numerals
// validate like ASCII ones.
var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\p{Nd}{1,2}[/-]\p{Nd}{1,2}[/-]\p{Nd}{2,4}`),
		regexp.MustCompile(`\p{Nd}{2,4}[/-]\p{Nd}{1,2}[/-]\p{Nd}{1,2}`),
		regexp.MustCompile(`\p{Nd}{1,2}\s+[\p{L}\p{M}]+\s+\p{Nd}{2,4}`),
	}
	phonePattern    = regexp.MustCompile(`\p{Nd}{10}`)
	amountPattern   = regexp.MustCompile(`^\p{Nd}+(\.\p{Nd}+)?$`)
	currencyPattern = regexp.MustCompile(`[₹$€£]\s*\p{Nd}+`)
	digitPattern    = regexp.MustCompile(`\p{Nd}`)

	addressKeywords = []string{"street", "road", "avenue", "lane", "nagar", "colony", "sector"}
)

// ValidatePattern scores how well text fits the expected shape of a field
// type, in [0,1].
func ValidatePattern(text, fieldType string) float64 {
	if fieldType == "" {
		return defaultPatternScore
	}

	switch strings.ToLower(fieldType) {
	case FieldDate:
		for _, p := range datePatterns {
			if p.MatchString(text) {
				return 1.0
			}
		}
		return 0.3
	case FieldPhone:
		compact := strings.NewReplacer(" ", "", "-", "").Replace(text)
		if phonePattern.MatchString(compact) {
			return 1.0
		}
		return 0.2
	case FieldAmount:
		if amountPattern.MatchString(strings.TrimSpace(text)) {
			return 1.0
		}
		if currencyPattern.MatchString(text) {
			return 0.9
		}
		return 0.4
	case FieldName:
		if !digitPattern.MatchString(text) {
			return 1.0
		}
		return 0.5
	case FieldAddress:
		lower := strings.ToLower(text)
		for _, kw := range addressKeywords {
			if strings.Contains(lower, kw) {
				return 1.0
			}
		}
		return 0.5
	default:
		return defaultPatternScore
	}
}
