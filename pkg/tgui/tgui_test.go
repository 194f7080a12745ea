package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sub:440", Data("sub", "440"))
	assert.Equal(t, "noop", Data("noop", ""))

	action, payload := SplitData("sub:440")
	assert.Equal(t, "sub", action)
	assert.Equal(t, "440", payload)

	action, payload = SplitData("noop")
	assert.Equal(t, "noop", action)
	assert.Empty(t, payload)
}

func TestDataClampsToCallbackLimit(t *testing.T) {
	t.Parallel()

	got := Data("sub", strings.Repeat("9", 100))
	assert.Len(t, got, MaxCallbackDataLen)
	assert.True(t, strings.HasPrefix(got, "sub:"))

	// The widest app id in use stays well inside the limit.
	assert.Equal(t, "sub:4294967295", Data("sub", "4294967295"))
}

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, H("<b>a &amp; b</b>"), B("a & b"))
	assert.Equal(t, H("<i>x</i>"), I("x"))
	assert.Equal(t, H("<code>&lt;nil&gt;</code>"), Code("<nil>"))
	assert.Equal(t, H(`<a href="https://x.test/?a=1&amp;b=2">t</a>`), Link("t", "https://x.test/?a=1&b=2"))
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", TruncRunes("abc", 0))
	assert.Equal(t, "abc", TruncRunes("abc", 3))
	assert.Equal(t, "ab…", TruncRunes("abcd", 2))
	// Rune-aware, not byte-aware.
	assert.Equal(t, "héllo", TruncRunes("héllo", 5))
	assert.Equal(t, "hé…", TruncRunes("héllo", 2))
}

func TestInlineKeyboard(t *testing.T) {
	t.Parallel()

	kb := NewInline().
		Row(Btn("A", "sub:1")).
		Row(Btn("B", "sub:2"), Btn("C", "sub:3"))

	rm := kb.Markup()
	assert.Len(t, rm.InlineKeyboard, 2)
	assert.Len(t, rm.InlineKeyboard[0], 1)
	assert.Len(t, rm.InlineKeyboard[1], 2)
	assert.Equal(t, "A", rm.InlineKeyboard[0][0].Text)
}
