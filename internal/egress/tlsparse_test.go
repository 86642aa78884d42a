package egress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSNI_SingleHostname(t *testing.T) {
	rec := buildClientHello("example.com")
	host, ok, err := extractSNI(rec)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "example.com", host)
}

func TestExtractSNI_LastSNIWins(t *testing.T) {
	rec := buildClientHello("first.com", "second.com")
	host, ok, err := extractSNI(rec)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second.com", host)
}

func TestExtractSNI_NoExtension(t *testing.T) {
	rec := buildClientHello()
	_, ok, err := extractSNI(rec)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtractSNI_NonHandshakeMessage(t *testing.T) {
	rec := buildNonHandshakeRecord()
	_, ok, err := extractSNI(rec)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtractSNI_TruncatedRecord(t *testing.T) {
	rec := buildClientHello("example.com")
	_, _, err := extractSNI(rec[:len(rec)-5])
	assert.Error(t, err)
}
