package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_StandardName(t *testing.T) {
	t.Setenv("ANALYZER_PORT", "8000")
	assert.Equal(t, "8000", GetEnv("ANALYZER_PORT"))
}

func TestGetEnv_PrefixedFallback(t *testing.T) {
	t.Setenv("SCAMSHIELD_ANALYZER_HOST", "127.0.0.1")
	assert.Equal(t, "127.0.0.1", GetEnv("ANALYZER_HOST"))
}

func TestGetEnv_StandardNameWins(t *testing.T) {
	t.Setenv("ANALYZER_PORT", "8000")
	t.Setenv("SCAMSHIELD_ANALYZER_PORT", "9000")
	assert.Equal(t, "8000", GetEnv("ANALYZER_PORT"))
}

func TestGetEnv_Missing(t *testing.T) {
	assert.Empty(t, GetEnv("DEFINITELY_NOT_SET_ANYWHERE"))
}
