package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestData(t *testing.T) {
	t.Parallel()
	d, err := Data("ui", "confirm_repeat")
	require.NoError(t, err)
	assert.Equal(t, "ui:confirm_repeat", d)

	scope, action, ok := ParseData(d)
	assert.True(t, ok)
	assert.Equal(t, "ui", scope)
	assert.Equal(t, "confirm_repeat", action)

	_, _, ok = ParseData("no-colon")
	assert.False(t, ok)

	_, err = Data("ui", strings.Repeat("x", MaxCallbackDataLen))
	assert.ErrorIs(t, err, ErrCallbackDataTooLong)
}

func TestHTML(t *testing.T) {
	t.Parallel()
	assert.Equal(t, H("<b>a &lt;b&gt;</b>"), B("a <b>"))
	assert.Equal(t, H("x\n<i>y</i>"), JoinH("\n", Esc("x"), "", " ", I("y")))
	assert.Equal(t, H(`<a href="https://t.me/x?a=1&amp;b=2">t</a>`), Link("t", "https://t.me/x?a=1&b=2"))
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncRunes(tt.in, tt.n), tt.in)
	}
}

func TestInline(t *testing.T) {
	t.Parallel()
	kb := NewInline()
	assert.Nil(t, kb.Markup())
	kb.Row(Btn("A", "ui:a"), Btn("B", "ui:b")).Row().Row(Btn("C", "ui:c"))
	assert.Equal(t, 2, kb.Len())
	rm := kb.Markup()
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 2)
	assert.Equal(t, "ui:a", rm.InlineKeyboard[0][0].Data)
}
