package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"steamnewsbot/internal/feeds"
)

func TestBlurbify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text", in: "hello world", want: "hello world"},
		{name: "tags stripped", in: "<p>hello <b>world</b></p>", want: "hello world"},
		{name: "whitespace collapsed", in: "a\n\n  b\t c", want: "a b c"},
		{name: "entities decoded", in: "fish &amp; chips", want: "fish & chips"},
		{name: "empty", in: "", want: ""},
		{
			name: "block elements separated",
			in:   "<div>first</div><div>second</div>",
			want: "first second",
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, blurbify(tc.in), tc.name)
	}
}

func TestBlurbifyTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 200)
	got := blurbify(long)
	assert.LessOrEqual(t, len([]rune(got)), blurbLimit+1)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestRenderItem(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	it := feeds.Item{
		Title:       "Big <Update>",
		Link:        "https://store.example/news/1",
		Description: "<p>Patch notes &amp; fixes</p>",
		Published:   &ts,
	}
	got := renderItem("Half & Life", 440, it, "https://cdn.example/440/header.jpg")

	assert.Contains(t, got, "<b>Half &amp; Life</b> (#440)")
	assert.Contains(t, got, "<b>Big &lt;Update&gt;</b>")
	assert.Contains(t, got, "Patch notes &amp; fixes")
	assert.Contains(t, got, "https://store.example/news/1")
	// Hidden artwork link comes first so the client picks it for the preview.
	assert.True(t, strings.HasPrefix(got, `<a href="https://cdn.example/440/header.jpg">`))
}

func TestRenderItemPrefersItemImage(t *testing.T) {
	t.Parallel()

	it := feeds.Item{Title: "t", Image: "https://cdn.example/item.png"}
	got := renderItem("Game", 10, it, "https://cdn.example/header.jpg")
	assert.Contains(t, got, "item.png")
	assert.NotContains(t, got, "header.jpg")
}

func TestRenderItemMinimal(t *testing.T) {
	t.Parallel()

	got := renderItem("Game", 10, feeds.Item{Title: "only title"}, "")
	assert.Equal(t, "<b>Game</b> (#10)\n<b>only title</b>", got)
}

func TestIconFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://cdn.example/440/h.jpg", iconFor("https://cdn.example/{id}/h.jpg", 440))
	assert.Empty(t, iconFor("  ", 440))
}
