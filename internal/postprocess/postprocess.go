// Package postprocess cleans OCR text, expands domain abbreviations,
// normalizes Unicode and measures how much of the text is dictionary
// vocabulary.
package postprocess

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	TagBasicCleanup          = "basic_cleanup"
	TagHinglishNormalization = "hinglish_normalization"
)

// Config controls the post-processing stages.
type Config struct {
	DictionariesDir string                       `mapstructure:"dictionaries_dir" yaml:"dictionaries_dir" json:"dictionaries_dir"`
	Hinglish        bool                         `mapstructure:"hinglish" yaml:"hinglish" json:"hinglish"`
	Abbreviations   map[string]map[string]string `mapstructure:"abbreviations" yaml:"abbreviations" json:"abbreviations"`
}

// DefaultConfig returns the medical and logistics abbreviation tables with
// Hinglish normalization enabled.
func DefaultConfig() Config {
	return Config{
		DictionariesDir: "dictionaries",
		Hinglish:        true,
		Abbreviations: map[string]map[string]string{
			"medical": {
				"bd":  "twice daily",
				"od":  "once daily",
				"tds": "three times daily",
				"qid": "four times daily",
				"ac":  "before meals",
				"pc":  "after meals",
				"hs":  "at bedtime",
				"prn": "as needed",
				"tab": "tablet",
				"cap": "capsule",
				"syr": "syrup",
				"inj": "injection",
				"mg":  "milligrams",
				"ml":  "milliliters",
				"gm":  "grams",
				"mcg": "micrograms",
			},
			"logistics": {
				"ptr": "parcel tracking reference",
				"awb": "airway bill",
				"pod": "proof of delivery",
				"qty": "quantity",
				"wt":  "weight",
				"pkg": "package",
			},
		},
	}
}

type abbreviation struct {
	domain    string
	key       string
	pattern   *regexp.Regexp
	expansion string
}

// Result is the outcome of processing one region's text.
type Result struct {
	Text               string   `json:"text"`
	RawText            string   `json:"raw_text"`
	CorrectionsApplied []string `json:"corrections_applied"`
	DictionaryMatch    float64  `json:"dictionary_match_score"`
	UnknownWords       int      `json:"unknown_word_count"`
	CorrectionCount    int      `json:"correction_count"`
}

// Processor is safe for concurrent use.
type Processor struct {
	hinglish bool
	abbrevs  []abbreviation
	dict     Dictionary
	logger   *slog.Logger
}

// New loads dictionaries from cfg.DictionariesDir and compiles the
// abbreviation patterns. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return NewWithDictionary(cfg, LoadDictionaries(cfg.DictionariesDir, logger), logger)
}

// NewWithDictionary builds a Processor around an already loaded dictionary.
func NewWithDictionary(cfg Config, dict Dictionary, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if dict == nil {
		dict = make(Dictionary)
	}
	return &Processor{
		hinglish: cfg.Hinglish,
		abbrevs:  compileAbbreviations(cfg.Abbreviations),
		dict:     dict,
		logger:   logger,
	}
}

// compileAbbreviations orders domains and keys so expansion is
// deterministic.
func compileAbbreviations(table map[string]map[string]string) []abbreviation {
	domains := make([]string, 0, len(table))
	for d := range table {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var out []abbreviation
	for _, d := range domains {
		keys := make([]string, 0, len(table[d]))
		for k := range table[d] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := strings.ToLower(strings.TrimSpace(k))
			if key == "" {
				continue
			}
			out = append(out, abbreviation{
				domain:    strings.ToLower(d),
				key:       key,
				pattern:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(key) + `\b`),
				expansion: table[d][k],
			})
		}
	}
	return out
}

// DictionarySize returns the number of known words.
func (p *Processor) DictionarySize() int { return len(p.dict) }

// Process runs cleanup, abbreviation expansion for domain, Unicode
// normalization and dictionary matching. An empty domain expands the
// abbreviations of every configured domain.
func (p *Processor) Process(text, domain string) Result {
	var corrections []string

	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned != text {
		corrections = append(corrections, TagBasicCleanup)
	}

	corrected := cleaned
	domain = strings.ToLower(domain)
	for _, a := range p.abbrevs {
		if domain != "" && a.domain != domain {
			continue
		}
		if a.pattern.MatchString(corrected) {
			corrected = a.pattern.ReplaceAllLiteralString(corrected, a.expansion)
			corrections = append(corrections, a.domain+"_abbrev_"+a.key)
		}
	}

	if p.hinglish {
		normalized := norm.NFC.String(corrected)
		if normalized != corrected {
			corrections = append(corrections, TagHinglishNormalization)
			corrected = normalized
		}
	}

	match, unknown := p.match(corrected)
	if corrections == nil {
		corrections = []string{}
	}
	return Result{
		Text:               corrected,
		RawText:            text,
		CorrectionsApplied: corrections,
		DictionaryMatch:    match,
		UnknownWords:       unknown,
		CorrectionCount:    len(corrections),
	}
}

// match returns the fraction of words found in the dictionary and the
// number of alphabetic words that were not. Without a dictionary nothing
// counts as unknown.
func (p *Processor) match(text string) (float64, int) {
	fold := cases.Fold()
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0, 0
	}
	matched, unknown := 0, 0
	for _, w := range words {
		w = fold.String(strings.TrimFunc(w, unicode.IsPunct))
		if p.dict.Contains(w) {
			matched++
			continue
		}
		if len(p.dict) > 0 && strings.IndexFunc(w, unicode.IsLetter) >= 0 {
			unknown++
		}
	}
	return float64(matched) / float64(len(words)), unknown
}
