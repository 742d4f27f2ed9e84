package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/medindex/internal/domain"
)

const (
	ContentTypePDF   = "application/pdf"
	ContentTypePlain = "text/plain"
)

var pdfMagic = []byte("%PDF-")

// Extractor turns raw document bytes into ordered pages of text.
type Extractor interface {
	Extract(ctx context.Context, raw []byte, contentType string) ([]string, error)
}

// DefaultExtractor handles plain text and PDF content.
type DefaultExtractor struct{}

// New creates the default extractor
func New() *DefaultExtractor {
	return &DefaultExtractor{}
}

// Extract returns the non-empty pages of raw. Every failure wraps
// domain.ErrExtraction so the queue treats it as permanent.
func (e *DefaultExtractor) Extract(ctx context.Context, raw []byte, contentType string) ([]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, domain.ErrExtraction.WithCause(domain.ErrEmptyDocument)
	}

	var (
		pages []string
		err   error
	)
	switch DetectContentType(raw, contentType) {
	case ContentTypePDF:
		pages, err = extractPDF(ctx, raw)
	case ContentTypePlain:
		pages, err = extractPlain(raw)
	default:
		err = fmt.Errorf("unsupported content type %q", contentType)
	}
	if err != nil {
		return nil, domain.ErrExtraction.WithCause(err)
	}
	if len(pages) == 0 {
		return nil, domain.ErrExtraction.WithCause(fmt.Errorf("no text content found"))
	}
	return pages, nil
}

// DetectContentType normalises the declared content type, falling back to
// sniffing the PDF header when nothing usable was declared.
func DetectContentType(raw []byte, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}

	switch {
	case declared == ContentTypePDF:
		return ContentTypePDF
	case strings.HasPrefix(declared, "text/"):
		return ContentTypePlain
	case declared == "" || declared == "application/octet-stream":
		if bytes.HasPrefix(raw, pdfMagic) {
			return ContentTypePDF
		}
		if utf8.Valid(raw) {
			return ContentTypePlain
		}
	}
	return declared
}

// extractPlain treats form feeds as page breaks.
func extractPlain(raw []byte) ([]string, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("text is not valid UTF-8")
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")

	var pages []string
	for _, page := range strings.Split(text, "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		pages = append(pages, strings.TrimSpace(page))
	}
	return pages, nil
}
