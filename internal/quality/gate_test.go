package quality

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validMeta = Metadata{DocumentID: "doc-1", SourceURI: "s3://bucket/doc.pdf", Category: "cardiology"}

func TestHeuristicGate_TooShort(t *testing.T) {
	gate := NewHeuristicGate(DefaultConfig(), nil)

	v := gate.Accept("short text", validMeta)

	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonTooShort, v.Reason)
}

func TestHeuristicGate_MinCharsCountsCharactersNotBytes(t *testing.T) {
	gate := NewHeuristicGate(DefaultConfig(), nil)
	greek := strings.Repeat("ά", 60)
	require.Greater(t, len(greek), 100)

	v := gate.Accept(greek, validMeta)

	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonTooShort, v.Reason)
}

func TestHeuristicGate_MissingMetadata(t *testing.T) {
	gate := NewHeuristicGate(DefaultConfig(), nil)
	text := strings.Repeat("clinical ", 20)

	cases := []Metadata{
		{SourceURI: "s3://x", Category: "c"},
		{DocumentID: "d", Category: "c"},
		{DocumentID: "d", SourceURI: "s3://x"},
	}
	for _, meta := range cases {
		v := gate.Accept(text, meta)
		assert.False(t, v.Accepted)
		assert.Equal(t, ReasonMissingMetadata, v.Reason)
	}
}

func TestHeuristicGate_InsufficientSignals(t *testing.T) {
	matcher := NewKeywordMatcher(map[string][]string{
		"default":    {"patient"},
		"cardiology": {"arrhythmia", "atrial fibrillation"},
	})
	gate := NewHeuristicGate(Config{MinChars: 10, MinSignals: 2}, matcher)

	v := gate.Accept("This paragraph discusses nothing relevant at all to anyone.", validMeta)
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonInsufficientSignals, v.Reason)

	v = gate.Accept("The patient presented with atrial fibrillation.", validMeta)
	assert.True(t, v.Accepted)
	assert.Empty(t, v.Reason)
}

func TestHeuristicGate_NilMatcherWithSignalsRequired(t *testing.T) {
	gate := NewHeuristicGate(Config{MinChars: 1, MinSignals: 1}, nil)

	v := gate.Accept("anything", validMeta)

	assert.Equal(t, ReasonInsufficientSignals, v.Reason)
}

func TestHeuristicGate_Monotonic(t *testing.T) {
	matcher := NewKeywordMatcher(map[string][]string{"default": {"dose"}})
	gate := NewHeuristicGate(Config{MinChars: 40, MinSignals: 1}, matcher)

	base := "Adjust the dose for renal impairment now."
	require.True(t, gate.Accept(base, validMeta).Accepted)

	for i := 1; i <= 10; i++ {
		longer := base + strings.Repeat(" filler", i)
		assert.True(t, gate.Accept(longer, validMeta).Accepted, "longer text rejected")

		moreSignals := base + strings.Repeat(" dose", i)
		assert.True(t, gate.Accept(moreSignals, validMeta).Accepted, "more signals rejected")
	}
}

func TestKeywordMatcher_CountSignals(t *testing.T) {
	matcher := NewKeywordMatcher(map[string][]string{
		"default":  {"Patient"},
		"oncology": {"tumor", "  "},
	})

	assert.Equal(t, 2, matcher.CountSignals("Patient one, patient two.", "cardiology"))
	assert.Equal(t, 3, matcher.CountSignals("Patient tumor, tumor.", "Oncology"))
	assert.Equal(t, 0, matcher.CountSignals("outpatients", "cardiology"))
	assert.Equal(t, 0, matcher.CountSignals("", "oncology"))
}

func TestLoadKeywordMatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.yaml")
	content := "default:\n  - patient\ncardiology:\n  - stent\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	matcher, err := LoadKeywordMatcher(path)
	require.NoError(t, err)

	assert.Equal(t, 2, matcher.CountSignals("patient received a stent", "cardiology"))
}

func TestLoadKeywordMatcher_Errors(t *testing.T) {
	_, err := LoadKeywordMatcher(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default: [unterminated"), 0o600))
	_, err = LoadKeywordMatcher(path)
	assert.Error(t, err)
}
