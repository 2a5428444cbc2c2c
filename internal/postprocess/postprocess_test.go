package postprocess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dict(words ...string) Dictionary {
	d := make(Dictionary)
	for _, w := range words {
		d[w] = struct{}{}
	}
	return d
}

func TestProcess_MedicalAbbreviations(t *testing.T) {
	p := NewWithDictionary(DefaultConfig(), dict("tablet", "paracetamol", "twice", "daily"), nil)

	r := p.Process("  Tab  Paracetamol 500 mg BD ", "medical")
	assert.Equal(t, "tablet Paracetamol 500 milligrams twice daily", r.Text)
	assert.Equal(t, "  Tab  Paracetamol 500 mg BD ", r.RawText)
	assert.Equal(t, []string{
		"basic_cleanup",
		"medical_abbrev_bd",
		"medical_abbrev_mg",
		"medical_abbrev_tab",
	}, r.CorrectionsApplied)
	assert.Equal(t, 4, r.CorrectionCount)
	assert.InDelta(t, 4.0/6.0, r.DictionaryMatch, 1e-9)
	assert.Equal(t, 1, r.UnknownWords)
}

func TestProcess_DomainScoping(t *testing.T) {
	p := NewWithDictionary(DefaultConfig(), nil, nil)

	r := p.Process("AWB 123 Qty 4 BD", "logistics")
	assert.Equal(t, "airway bill 123 quantity 4 BD", r.Text)
	assert.Equal(t, []string{"logistics_abbrev_awb", "logistics_abbrev_qty"}, r.CorrectionsApplied)

	r = p.Process("AWB 123 BD", "")
	assert.Equal(t, "airway bill 123 twice daily", r.Text)

	r = p.Process("AWB 123", "finance")
	assert.Equal(t, "AWB 123", r.Text)
	assert.Empty(t, r.CorrectionsApplied)
}

func TestProcess_Normalization(t *testing.T) {
	p := NewWithDictionary(DefaultConfig(), nil, nil)
	r := p.Process("cafe\u0301", "")
	assert.Equal(t, "caf\u00e9", r.Text)
	assert.Equal(t, []string{TagHinglishNormalization}, r.CorrectionsApplied)

	cfg := DefaultConfig()
	cfg.Hinglish = false
	r = NewWithDictionary(cfg, nil, nil).Process("cafe\u0301", "")
	assert.Equal(t, "cafe\u0301", r.Text)
	assert.Empty(t, r.CorrectionsApplied)
}

func TestProcess_EmptyAndNoDictionary(t *testing.T) {
	p := NewWithDictionary(Config{}, nil, nil)

	r := p.Process("", "")
	assert.Equal(t, "", r.Text)
	assert.Zero(t, r.DictionaryMatch)
	assert.NotNil(t, r.CorrectionsApplied)

	r = p.Process("unknown words everywhere", "")
	assert.Zero(t, r.DictionaryMatch)
	assert.Zero(t, r.UnknownWords, "without a dictionary nothing is unknown")
}

func TestLoadDictionaries(t *testing.T) {
	dir := t.TempDir()
	content := "\uFEFFParacetamol\n\n  Insulin  \nAMOXICILLIN\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "medical_terms_en.txt"), []byte(content), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common_hinglish_words.txt"), []byte("dawai\n"), 0o600))

	words, err := LoadWordList(filepath.Join(dir, "medical_terms_en.txt"))
	require.NoError(t, err)
	assert.Len(t, words, 3)
	assert.True(t, words.Contains("paracetamol"))
	assert.True(t, words.Contains("insulin"))

	p := New(Config{DictionariesDir: dir}, nil)
	assert.Equal(t, 4, p.DictionarySize())

	r := p.Process("Insulin, dawai", "")
	assert.InDelta(t, 1.0, r.DictionaryMatch, 1e-9)
	assert.Zero(t, r.UnknownWords)

	_, err = LoadWordList("")
	assert.Error(t, err)
	assert.Zero(t, New(Config{DictionariesDir: filepath.Join(dir, "missing")}, nil).DictionarySize())
}
