package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "documents/abc123", DocumentKey("abc123"))
}
