package postprocess

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// DictionaryFiles maps dictionary names to the files loaded from the
// dictionaries directory.
var DictionaryFiles = map[string]string{
	"medical_en":       "medical_terms_en.txt",
	"medical_hi":       "medical_terms_hi.txt",
	"medical_hinglish": "medical_terms_hinglish.txt",
	"logistics_en":     "logistics_terms_en.txt",
	"hinglish_common":  "common_hinglish_words.txt",
}

// Dictionary is a case-folded set of known words.
type Dictionary map[string]struct{}

// Contains reports whether the folded word is known.
func (d Dictionary) Contains(word string) bool {
	_, ok := d[word]
	return ok
}

// LoadWordList reads one word per non-empty line. Surrounding whitespace is
// trimmed and a UTF-8 BOM on the first line is removed.
func LoadWordList(path string) (Dictionary, error) {
	if path == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: dictionary path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer func() { _ = f.Close() }()

	fold := cases.Fold()
	words := make(Dictionary, 256)
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if line == "" {
			continue
		}
		words[fold.String(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading dictionary %s: %w", path, err)
	}
	return words, nil
}

// LoadDictionaries loads every known dictionary file present in dir and
// merges them into one set. Missing files are skipped; unreadable ones are
// logged and skipped.
func LoadDictionaries(dir string, logger *slog.Logger) Dictionary {
	merged := make(Dictionary)
	if dir == "" {
		return merged
	}
	for name, file := range DictionaryFiles {
		path := filepath.Join(dir, file)
		words, err := LoadWordList(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("dictionary not found", "name", name, "path", path)
			continue
		case err != nil:
			logger.Warn("failed to load dictionary", "name", name, "error", err)
			continue
		}
		logger.Info("loaded dictionary", "name", name, "words", len(words))
		for w := range words {
			merged[w] = struct{}{}
		}
	}
	return merged
}
