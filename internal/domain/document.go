package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DocumentStatus represents the ingestion status of a document
type DocumentStatus string

const (
	DocumentStatusQueued     DocumentStatus = "queued"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusIndexed    DocumentStatus = "indexed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is a unit of ingested source material.
type Document struct {
	ID            string
	SourceURI     string
	Title         string
	PublishedAt   *time.Time
	Category      string
	ContentType   string
	Status        DocumentStatus
	ContentHash   string
	LastError     string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the document has not been deactivated.
func (d *Document) Active() bool {
	return d.DeactivatedAt == nil
}

// Searchable reports whether the document's chunks may be served by search.
func (d *Document) Searchable() bool {
	return d.Active() && d.Status == DocumentStatusIndexed
}

// ContentHash returns the stable identifier for raw document bytes.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// CanTransition reports whether a document may move from one status to another
// as part of normal queue processing. Re-ingestion resets status explicitly and
// does not go through this check.
func CanTransition(from, to DocumentStatus) bool {
	switch from {
	case DocumentStatusQueued:
		return to == DocumentStatusProcessing || to == DocumentStatusFailed
	case DocumentStatusProcessing:
		return to == DocumentStatusIndexed || to == DocumentStatusQueued || to == DocumentStatusFailed
	case DocumentStatusIndexed:
		return false
	case DocumentStatusFailed:
		return false
	}
	return false
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.SourceURI == "" {
		return fmt.Errorf("document SourceURI is required")
	}
	if d.Category == "" {
		return fmt.Errorf("document Category is required")
	}
	if !IsValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}
	return nil
}

// IsValidDocumentStatus checks if a DocumentStatus is valid
func IsValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusQueued, DocumentStatusProcessing, DocumentStatusIndexed, DocumentStatusFailed:
		return true
	}
	return false
}
