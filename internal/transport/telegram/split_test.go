package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()

	got := splitTelegramText("hello", 100, "")
	assert.Equal(t, []string{"hello"}, got)
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("line one\n", 20)
	got := splitTelegramText(strings.TrimRight(text, "\n"), 50, "")
	assert.Greater(t, len(got), 1)
	for _, chunk := range got {
		assert.LessOrEqual(t, len([]rune(chunk)), 50)
		// Newline-preferred splitting keeps lines whole.
		for _, line := range strings.Split(chunk, "\n") {
			assert.Equal(t, "line one", line)
		}
	}
}

func TestSplitTelegramTextNoBoundaries(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 130)
	got := splitTelegramText(text, 50, "")
	assert.Equal(t, []string{strings.Repeat("x", 50), strings.Repeat("x", 50), strings.Repeat("x", 30)}, got)
}

func TestSplitTelegramTextAvoidsTagBreaks(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 45) + "<b>bold</b>"
	got := splitTelegramText(text, 50, "HTML")
	assert.Greater(t, len(got), 1)
	for _, chunk := range got {
		assert.Equal(t, strings.Count(chunk, "<"), strings.Count(chunk, ">"),
			"chunk must not split inside a tag: %q", chunk)
	}
}

func TestSplitTelegramTextRuneSafety(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("日本語テキスト", 30)
	got := splitTelegramText(text, 50, "")
	assert.Equal(t, text, strings.Join(got, ""))
	for _, chunk := range got {
		assert.LessOrEqual(t, len([]rune(chunk)), 50)
	}
}
