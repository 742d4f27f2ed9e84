// Package quality decides whether a chunk is allowed into the ingestion pipeline.
package quality

import (
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Rejection reasons reported in ingestion statistics.
const (
	ReasonTooShort            = "too_short"
	ReasonInsufficientSignals = "insufficient_signals"
	ReasonMissingMetadata     = "missing_metadata"
)

// Metadata carries the document fields the gate requires.
type Metadata struct {
	DocumentID string
	SourceURI  string
	Category   string
}

// Verdict is the outcome of a gate decision.
type Verdict struct {
	Accepted bool
	Reason   string
}

// Gate accepts or rejects chunk text.
type Gate interface {
	Accept(text string, meta Metadata) Verdict
}

// SignalMatcher counts domain-signal terms in text for a category.
type SignalMatcher interface {
	CountSignals(text, category string) int
}

// Config controls the heuristic gate thresholds.
type Config struct {
	MinChars   int
	MinSignals int
}

// DefaultConfig returns the default gate thresholds.
func DefaultConfig() Config {
	return Config{MinChars: 100, MinSignals: 0}
}

// HeuristicGate rejects short, signal-poor or unattributed chunks.
type HeuristicGate struct {
	cfg     Config
	matcher SignalMatcher
}

// NewHeuristicGate creates a gate. A nil matcher counts zero signals.
func NewHeuristicGate(cfg Config, matcher SignalMatcher) *HeuristicGate {
	return &HeuristicGate{cfg: cfg, matcher: matcher}
}

// Accept implements Gate.
func (g *HeuristicGate) Accept(text string, meta Metadata) Verdict {
	if meta.DocumentID == "" || meta.SourceURI == "" || meta.Category == "" {
		return Verdict{Reason: ReasonMissingMetadata}
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < g.cfg.MinChars {
		return Verdict{Reason: ReasonTooShort}
	}
	if g.cfg.MinSignals > 0 {
		n := 0
		if g.matcher != nil {
			n = g.matcher.CountSignals(text, meta.Category)
		}
		if n < g.cfg.MinSignals {
			return Verdict{Reason: ReasonInsufficientSignals}
		}
	}
	return Verdict{Accepted: true}
}

// KeywordMatcher counts occurrences of configured terms. Terms listed under
// "default" apply to every category.
type KeywordMatcher struct {
	terms map[string][]string
}

// NewKeywordMatcher builds a matcher from category term lists.
func NewKeywordMatcher(terms map[string][]string) *KeywordMatcher {
	norm := make(map[string][]string, len(terms))
	for category, list := range terms {
		key := strings.ToLower(strings.TrimSpace(category))
		for _, term := range list {
			term = strings.ToLower(strings.TrimSpace(term))
			if term != "" {
				norm[key] = append(norm[key], term)
			}
		}
	}
	return &KeywordMatcher{terms: norm}
}

// LoadKeywordMatcher reads a YAML file of the form:
//
//	default: [patient, dose]
//	cardiology: [arrhythmia, stent]
func LoadKeywordMatcher(path string) (*KeywordMatcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal terms: %w", err)
	}
	var terms map[string][]string
	if err := yaml.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("failed to parse signal terms: %w", err)
	}
	return NewKeywordMatcher(terms), nil
}

// CountSignals implements SignalMatcher. Each term counts once per occurrence
// on word boundaries.
func (m *KeywordMatcher) CountSignals(text, category string) int {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	joined := " " + strings.Join(tokens, " ") + " "

	count := 0
	for _, list := range [][]string{m.terms["default"], m.terms[strings.ToLower(category)]} {
		for _, term := range list {
			needle := " " + strings.Join(tokenize(term), " ") + " "
			count += strings.Count(joined, needle)
		}
	}
	return count
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
