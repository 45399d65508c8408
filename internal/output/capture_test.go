package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBounded(t *testing.T) {
	t.Run("small output is returned unchanged", func(t *testing.T) {
		content := "hello\nworld\n"
		got, err := ReadBounded(strings.NewReader(content), 100)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("output equal to the budget is returned unchanged", func(t *testing.T) {
		content := strings.Repeat("x", 90)
		got, err := ReadBounded(strings.NewReader(content), 90)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("empty output", func(t *testing.T) {
		got, err := ReadBounded(strings.NewReader(""), 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("large output keeps head and tail", func(t *testing.T) {
		// --- Arrange ---
		var b strings.Builder
		for i := 0; i < 1000; i++ {
			b.WriteByte(byte('a' + i%26))
		}
		content := b.String()
		budget := 90

		// --- Act ---
		got, err := ReadBounded(strings.NewReader(content), budget)

		// --- Assert ---
		require.NoError(t, err)
		want := content[:60] + TrimBanner + content[len(content)-30:]
		assert.Equal(t, want, got)
		assert.LessOrEqual(t, len(got), budget+len(TrimBanner))
	})

	t.Run("budget not divisible by three", func(t *testing.T) {
		content := strings.Repeat("0123456789", 10)
		got, err := ReadBounded(strings.NewReader(content), 10)
		require.NoError(t, err)
		// head is 10*2/3 = 6 bytes, tail is the remaining 4
		assert.Equal(t, content[:6]+TrimBanner+content[96:], got)
	})

	t.Run("negative budget disables trimming", func(t *testing.T) {
		content := strings.Repeat("z", 5000)
		got, err := ReadBounded(strings.NewReader(content), -1)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})
}

func TestReadFile(t *testing.T) {
	t.Run("reads a capture file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.log")
		require.NoError(t, os.WriteFile(path, []byte("captured"), 0o644))

		got, err := ReadFile(path, DefaultBudget)
		require.NoError(t, err)
		assert.Equal(t, "captured", got)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(t.TempDir(), "missing.log"), DefaultBudget)
		require.Error(t, err)
		assert.True(t, os.IsNotExist(err))
	})
}
