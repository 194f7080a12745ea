package feeds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "steamnewsbot/pkg/logx"
)

func ts(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func item(title string, sec int64) Item {
	if sec == 0 {
		return Item{Title: title}
	}
	return Item{Title: title, Published: ts(sec)}
}

func titles(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Title)
	}
	return out
}

func TestParseAppID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    AppID
		wantErr bool
	}{
		{in: "440", want: 440},
		{in: " 730 ", want: 730},
		{in: "0", want: 0},
		{in: "-1", wantErr: true},
		{in: "portal", wantErr: true},
		{in: "", wantErr: true},
		{in: "99999999999", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseAppID(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestSortUndatedFirstStable(t *testing.T) {
	t.Parallel()

	items := []Item{
		item("c", 300),
		item("u1", 0),
		item("a", 100),
		item("u2", 0),
		item("b", 200),
	}
	Sort(items)
	assert.Equal(t, []string{"u1", "u2", "a", "b", "c"}, titles(items))
}

func TestSelectNewFirstPoll(t *testing.T) {
	t.Parallel()

	t.Run("empty feed yields nothing", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, SelectNew(nil, 0, false))
	})

	t.Run("only latest item on first poll", func(t *testing.T) {
		t.Parallel()
		items := []Item{item("old", 100), item("mid", 200), item("new", 300)}
		got := SelectNew(items, 0, false)
		assert.Equal(t, []string{"new"}, titles(got))
	})
}

func TestSelectNewAfterWatermark(t *testing.T) {
	t.Parallel()

	items := []Item{
		item("a", 900),
		item("b", 1000),
		item("c", 1100),
		item("d", 1200),
	}
	got := SelectNew(items, 1000, true)
	assert.Equal(t, []string{"c", "d"}, titles(got))
	assert.EqualValues(t, 1200, MaxTimestamp(got))
}

func TestSelectNewSeenExcludesUndated(t *testing.T) {
	t.Parallel()

	items := []Item{item("undated", 0), item("dated", 500)}
	got := SelectNew(items, 400, true)
	assert.Equal(t, []string{"dated"}, titles(got))

	// Watermark zero with an already-seen topic still means "strictly after".
	got = SelectNew(items, 0, true)
	assert.Equal(t, []string{"dated"}, titles(got))
}

func TestSelectNewNothingNewer(t *testing.T) {
	t.Parallel()

	items := []Item{item("a", 100), item("b", 200)}
	assert.Empty(t, SelectNew(items, 200, true))
	assert.Empty(t, SelectNew(items, 999, true))
}

func TestMaxTimestamp(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, 0, MaxTimestamp(nil))
	assert.EqualValues(t, 0, MaxTimestamp([]Item{item("u", 0)}))
	assert.EqualValues(t, 300, MaxTimestamp([]Item{item("a", 300), item("b", 100)}))
}

func TestFetcherURL(t *testing.T) {
	t.Parallel()

	f := NewFetcher("https://example.test/news/app/{id}", logx.Nop())
	assert.Equal(t, "https://example.test/news/app/440", f.URL(440))

	f.SetURLTemplate("https://other.test/{id}/rss")
	assert.Equal(t, "https://other.test/730/rss", f.URL(730))

	// Blank templates are ignored on hot reload.
	f.SetURLTemplate("   ")
	assert.Equal(t, "https://other.test/730/rss", f.URL(730))
}

func TestItemTimestampAndDate(t *testing.T) {
	t.Parallel()

	undated := Item{Title: "x"}
	assert.EqualValues(t, 0, undated.Timestamp())
	assert.Empty(t, undated.FormatDate())

	dated := item("y", 1700000000)
	assert.EqualValues(t, 1700000000, dated.Timestamp())
	assert.NotEmpty(t, dated.FormatDate())
}
