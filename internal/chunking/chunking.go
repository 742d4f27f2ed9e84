// Package chunking splits extracted document text into overlapping windows.
package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Config controls chunk window sizes. Window and overlap are counted in
// whitespace-delimited tokens.
type Config struct {
	WindowTokens   int
	OverlapTokens  int
	MinViableChars int
}

// DefaultConfig provides sane defaults for chunking.
func DefaultConfig() Config {
	return Config{
		WindowTokens:   200,
		OverlapTokens:  40,
		MinViableChars: 50,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.WindowTokens <= 0 {
		c.WindowTokens = def.WindowTokens
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.OverlapTokens >= c.WindowTokens {
		c.OverlapTokens = c.WindowTokens - 1
	}
	if c.MinViableChars < 0 {
		c.MinViableChars = 0
	}
	return c
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// Chunk splits text into an ordered sequence of chunk texts. Paragraphs are the
// semantic unit; paragraphs longer than the window are split into overlapping
// word windows. Fragments shorter than MinViableChars are merged into the prior
// chunk. Output is a pure function of text and cfg.
func Chunk(text string, cfg Config) []string {
	cfg = cfg.normalized()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	carry := ""
	for _, para := range paragraphBreak.Split(text, -1) {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		if carry != "" {
			words = append(strings.Fields(carry), words...)
			carry = ""
		}

		for _, w := range windows(words, cfg) {
			if utf8.RuneCountInString(w) < cfg.MinViableChars {
				if len(chunks) > 0 {
					chunks[len(chunks)-1] = mergeTail(chunks[len(chunks)-1], w)
				} else {
					carry = w
				}
				continue
			}
			chunks = append(chunks, w)
		}
	}

	if carry != "" {
		chunks = append(chunks, carry)
	}
	return chunks
}

// windows splits a paragraph's words into overlapping windows. A trailing
// partial window that is too short is folded into the previous window.
func windows(words []string, cfg Config) []string {
	if len(words) <= cfg.WindowTokens {
		return []string{strings.Join(words, " ")}
	}

	step := cfg.WindowTokens - cfg.OverlapTokens
	var out []string
	lastStart := 0
	for start := 0; start < len(words); start += step {
		end := start + cfg.WindowTokens
		if end > len(words) {
			end = len(words)
		}
		text := strings.Join(words[start:end], " ")
		if end-start < cfg.WindowTokens && utf8.RuneCountInString(text) < cfg.MinViableChars && len(out) > 0 {
			out[len(out)-1] = strings.Join(words[lastStart:end], " ")
			break
		}
		out = append(out, text)
		lastStart = start
		if end == len(words) {
			break
		}
	}
	return out
}

// mergeTail appends a short fragment to the prior chunk, skipping words the
// prior chunk already ends with because of window overlap.
func mergeTail(prior, fragment string) string {
	if strings.HasSuffix(prior, fragment) {
		return prior
	}
	return prior + " " + fragment
}

// CountTokens returns the whitespace token count of text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
