package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 123456789, time.UTC)
	id := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

	encoded := EncodeCursor(id, ts)
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")

	cursor, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, id, cursor.LastID)
	assert.True(t, ts.Equal(cursor.Timestamp))
}

func TestCursor_Empty(t *testing.T) {
	assert.Equal(t, "", EncodeCursor("", time.Now()))

	cursor, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	for _, raw := range []string{
		"not base64!",
		base64.RawURLEncoding.EncodeToString([]byte("no-separator")),
		base64.RawURLEncoding.EncodeToString([]byte("yesterday|abc")),
		base64.RawURLEncoding.EncodeToString([]byte("2025-03-01T00:00:00Z|")),
	} {
		_, err := DecodeCursor(raw)
		assert.ErrorIs(t, err, ErrInvalidCursor, raw)
	}
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 20, NormalizeLimit(0, 20, 100))
	assert.Equal(t, 20, NormalizeLimit(-5, 20, 100))
	assert.Equal(t, 50, NormalizeLimit(50, 20, 100))
	assert.Equal(t, 100, NormalizeLimit(500, 20, 100))
}
