package safetext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafe_PreservesValidUTF8(t *testing.T) {
	assert.Equal(t, "hello", Safe("hello"))
	assert.Equal(t, "こんにちは", Safe("こんにちは"))
}

func TestSafe_ReplacesUnpairedSurrogate(t *testing.T) {
	lone := string([]byte{0xED, 0xA0, 0x80}) // CESU-8 encoding of U+D800
	got := Safe(lone)
	assert.Equal(t, "?", got)
}

func TestSafe_Idempotent(t *testing.T) {
	inputs := []string{
		"plain ascii",
		"日本語のテキスト",
		string([]byte{0xED, 0xA0, 0x80}) + "tail",
	}
	for _, in := range inputs {
		once := Safe(in)
		twice := Safe(once)
		assert.Equal(t, once, twice)
	}
}

func TestSafe_NonStringInput(t *testing.T) {
	assert.Equal(t, "300", Safe(300))
	assert.Equal(t, "true", Safe(true))
}

func TestSafeJSON_CleansNestedStrings(t *testing.T) {
	lone := string([]byte{0xED, 0xA0, 0x80})
	raw, err := SafeJSON(map[string]any{
		"text":  "ok " + lone,
		"items": []any{"a", lone},
	})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), string([]byte{0xED, 0xA0, 0x80}))
}
