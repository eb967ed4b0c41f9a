package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	t.Run("short", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"hi"}, splitText("hi", 10, false))
	})

	t.Run("prefers newline", func(t *testing.T) {
		t.Parallel()
		got := splitText("aaaaaaa\nbbbbbbbbb", 10, false)
		assert.Equal(t, []string{"aaaaaaa", "bbbbbbbbb"}, got)
	})

	t.Run("hard cut", func(t *testing.T) {
		t.Parallel()
		got := splitText(strings.Repeat("x", 25), 10, false)
		require.Len(t, got, 3)
		assert.Equal(t, strings.Repeat("x", 5), got[2])
	})

	t.Run("html tag kept whole", func(t *testing.T) {
		t.Parallel()
		got := splitText("abcdefgh<b>x</b>", 10, true)
		assert.Equal(t, []string{"abcdefgh", "<b>x</b>"}, got)
	})

	t.Run("runes", func(t *testing.T) {
		t.Parallel()
		got := splitText(strings.Repeat("é", 12), 10, false)
		assert.Equal(t, []string{strings.Repeat("é", 10), "éé"}, got)
	})
}
