package stealth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvasionsEmbedded(t *testing.T) {
	assert.NotEmpty(t, EvasionsJS)
	assert.Contains(t, EvasionsJS, "webdriver")
}

func TestScript(t *testing.T) {
	t.Run("persona is serialized ahead of the evasions", func(t *testing.T) {
		script, err := Script(DefaultPersona)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(script, "window.__censusPersona = {"))
		assert.Contains(t, script, `"platform":"Win32"`)
		assert.Contains(t, script, `"languages":["en-US","en"]`)
		assert.True(t, strings.HasSuffix(strings.TrimSpace(script), strings.TrimSpace(EvasionsJS)))
	})

	t.Run("user agent quotes are escaped", func(t *testing.T) {
		script, err := Script(Persona{UserAgent: `ua "quoted"`})
		require.NoError(t, err)
		assert.Contains(t, script, `"userAgent":"ua \"quoted\""`)
	})
}
