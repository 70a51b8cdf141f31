package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		log, err := New(env, "agent-checkout")
		require.NoError(t, err)
		assert.NotNil(t, log)
	}
}

func TestTokenPrefix(t *testing.T) {
	assert.Equal(t, "tok_ab...", TokenPrefix("tok_abcdef123"))
	assert.Equal(t, "***", TokenPrefix("short"))
	assert.Equal(t, "***", TokenPrefix(""))
}
