package lingua

import (
	"sort"
	"unicode"

	"golang.org/x/text/language"
)

// scriptTables are the writing systems recognised on Indian documents,
// keyed by ISO 15924 code.
var scriptTables = []struct {
	script language.Script
	table  *unicode.RangeTable
}{
	{language.MustParseScript("Latn"), unicode.Latin},
	{language.MustParseScript("Deva"), unicode.Devanagari},
	{language.MustParseScript("Beng"), unicode.Bengali},
	{language.MustParseScript("Guru"), unicode.Gurmukhi},
	{language.MustParseScript("Gujr"), unicode.Gujarati},
	{language.MustParseScript("Orya"), unicode.Oriya},
	{language.MustParseScript("Taml"), unicode.Tamil},
	{language.MustParseScript("Telu"), unicode.Telugu},
	{language.MustParseScript("Knda"), unicode.Kannada},
	{language.MustParseScript("Mlym"), unicode.Malayalam},
	{language.MustParseScript("Arab"), unicode.Arabic},
	{language.MustParseScript("Hani"), unicode.Han},
}

// unknownScript is reported for letters outside scriptTables.
var unknownScript = language.MustParseScript("Zzzz")

// Scripts counts the letters of a text per script.
type Scripts map[language.Script]int

// DetectScripts counts letters by script. Digits, punctuation and marks
// belong to no script, so "Rs. 500" is plain Latin.
func DetectScripts(text string) Scripts {
	out := Scripts{}
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		found := unknownScript
		for _, st := range scriptTables {
			if unicode.Is(st.table, r) {
				found = st.script
				break
			}
		}
		out[found]++
	}
	return out
}

// Mixed reports whether letters from more than one script occur.
func (s Scripts) Mixed() bool { return len(s) > 1 }

// Primary returns the ISO 15924 code of the most frequent script, or
// "Zyyy" (common) when the text has no letters. Ties go to the code that
// sorts first.
func (s Scripts) Primary() string {
	if len(s) == 0 {
		return "Zyyy"
	}
	codes := make([]language.Script, 0, len(s))
	for sc := range s {
		codes = append(codes, sc)
	}
	sort.Slice(codes, func(i, j int) bool {
		if s[codes[i]] != s[codes[j]] {
			return s[codes[i]] > s[codes[j]]
		}
		return codes[i].String() < codes[j].String()
	})
	return codes[0].String()
}
