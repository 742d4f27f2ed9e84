package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code and message,
// so sentinels still match after WithCause.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WithCause returns a copy of the error carrying err as its cause.
func (e *DomainError) WithCause(err error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Err: err}
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeAlreadyExists        = "ALREADY_EXISTS"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeInvalidOperation     = "INVALID_OPERATION"
	ErrCodeExtraction           = "EXTRACTION_ERROR"
	ErrCodeQualityRejected      = "QUALITY_REJECTED"
	ErrCodeEmbeddingService     = "EMBEDDING_SERVICE_ERROR"
	ErrCodeIndexWrite           = "INDEX_WRITE_ERROR"
	ErrCodeIntegrityDrift       = "INTEGRITY_DRIFT"
	ErrCodeRetrievalUnavailable = "RETRIEVAL_UNAVAILABLE"
)

// Validation errors
var (
	ErrInvalidDocumentStatus = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrInvalidJobState       = NewDomainError(ErrCodeValidation, "invalid ingestion job state")
	ErrInvalidRating         = NewDomainError(ErrCodeValidation, "rating must be between 1 and 5")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
	ErrEmptyDocument         = NewDomainError(ErrCodeValidation, "document content is empty")
	ErrEmptyQuery            = NewDomainError(ErrCodeValidation, "query cannot be empty")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrBlobNotFound     = NewDomainError(ErrCodeNotFound, "raw document content not found")
	ErrJobNotFound      = NewDomainError(ErrCodeNotFound, "ingestion job not found")
)

// Already exists errors
var (
	ErrDocumentAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "document already exists")
	ErrJobAlreadyQueued      = NewDomainError(ErrCodeAlreadyExists, "document already has an active ingestion job")
)

// Operation errors
var (
	ErrInvalidTransition   = NewDomainError(ErrCodeInvalidOperation, "invalid state transition")
	ErrDocumentDeactivated = NewDomainError(ErrCodeInvalidOperation, "document is deactivated")
)

// Pipeline errors
var (
	// ErrExtraction is surfaced as an ingestion failure and never retried.
	ErrExtraction = NewDomainError(ErrCodeExtraction, "document extraction failed")
	// ErrQualityRejected marks a dropped chunk; it only feeds statistics.
	ErrQualityRejected = NewDomainError(ErrCodeQualityRejected, "chunk rejected by quality gate")
	// ErrEmbeddingService is returned once an embedding batch exhausted its retries.
	ErrEmbeddingService = NewDomainError(ErrCodeEmbeddingService, "embedding service failed")
	// ErrIndexWrite is returned when a batch could not be inserted; the batch is rolled back.
	ErrIndexWrite = NewDomainError(ErrCodeIndexWrite, "vector index write failed")
	// ErrIntegrityDrift is logged by the integrity monitor and triggers a rebuild.
	ErrIntegrityDrift = NewDomainError(ErrCodeIntegrityDrift, "vector index drifted from chunk table")
	// ErrRetrievalUnavailable is returned by search when neither vector nor lexical scoring works.
	ErrRetrievalUnavailable = NewDomainError(ErrCodeRetrievalUnavailable, "retrieval unavailable")
)

// IsRetryable reports whether an ingestion failure should be retried by the queue.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range []error{ErrExtraction, ErrDocumentNotFound, ErrBlobNotFound, ErrDocumentDeactivated} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
