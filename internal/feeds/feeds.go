// Package feeds fetches and parses Steam per-app news feeds and decides
// which items are new relative to a stored watermark.
package feeds

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	logx "steamnewsbot/pkg/logx"
)

// AppID identifies a Steam app. Opaque, stable, never reused as anything but
// a key.
type AppID uint32

func (id AppID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseAppID parses a decimal app id.
func ParseAppID(s string) (AppID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return AppID(v), nil
}

// Item is one parsed feed entry. Immutable once parsed.
type Item struct {
	Title       string
	Link        string
	Description string
	Published   *time.Time // nil when the feed had no parseable date
	Image       string
}

// Timestamp returns the publication time in Unix seconds, or 0 when the item
// is undated. Undated items sort before all dated ones.
func (it Item) Timestamp() int64 {
	if it.Published == nil {
		return 0
	}
	return it.Published.Unix()
}

// FormatDate renders the publication date for display, empty when undated.
func (it Item) FormatDate() string {
	if it.Published == nil {
		return ""
	}
	return it.Published.Format("Monday, January 2 at 15:04:05 MST")
}

// Sort orders items ascending by timestamp, undated first. The sort is
// stable so feed order breaks ties.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp() < items[j].Timestamp()
	})
}

// SelectNew computes the deliverable subset of an ascending-sorted item list.
//
// A topic never polled before (seen=false) yields only the single latest item,
// so the first successful poll doesn't spam the whole archive. A seen topic
// yields every item strictly newer than the watermark.
//
// Undated items carry timestamp 0 and therefore never pass the watermark on a
// seen topic; a feed that never supplies dates can keep redelivering through
// the first-poll path. That matches the upstream feeds' observed behavior and
// is accepted.
//
// Pure function: all watermark mutation happens in the caller.
func SelectNew(items []Item, watermark int64, seen bool) []Item {
	if !seen {
		if len(items) == 0 {
			return nil
		}
		return items[len(items)-1:]
	}
	var out []Item
	for _, it := range items {
		if it.Timestamp() > watermark {
			out = append(out, it)
		}
	}
	return out
}

// MaxTimestamp returns the largest timestamp in items, 0 if none is dated.
func MaxTimestamp(items []Item) int64 {
	var max int64
	for _, it := range items {
		if ts := it.Timestamp(); ts > max {
			max = ts
		}
	}
	return max
}

// Fetcher retrieves one app's news feed over HTTP.
type Fetcher struct {
	mu          sync.RWMutex
	urlTemplate string

	parser *gofeed.Parser
	log    logx.Logger
}

// NewFetcher creates a fetcher. urlTemplate must contain an {id} placeholder.
func NewFetcher(urlTemplate string, log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: 20 * time.Second}
	return &Fetcher{
		urlTemplate: urlTemplate,
		parser:      p,
		log:         log,
	}
}

// SetURLTemplate swaps the feed URL template (config hot-reload).
func (f *Fetcher) SetURLTemplate(t string) {
	if strings.TrimSpace(t) == "" {
		return
	}
	f.mu.Lock()
	f.urlTemplate = t
	f.mu.Unlock()
}

// URL resolves the feed location for an app.
func (f *Fetcher) URL(id AppID) string {
	f.mu.RLock()
	t := f.urlTemplate
	f.mu.RUnlock()
	return strings.ReplaceAll(t, "{id}", id.String())
}

// Fetch retrieves and parses one app's feed, returning items ascending by
// publication time. Network errors, non-success statuses and malformed
// documents all surface as errors; callers treat them as soft per-topic
// failures.
func (f *Fetcher) Fetch(ctx context.Context, id AppID) ([]Item, error) {
	url := f.URL(id)
	parsed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, fi := range parsed.Items {
		if fi == nil {
			continue
		}
		it := Item{
			Title:       fi.Title,
			Link:        fi.Link,
			Description: fi.Description,
			Published:   fi.PublishedParsed,
		}
		for _, enc := range fi.Enclosures {
			if enc != nil && enc.URL != "" {
				it.Image = enc.URL
				break
			}
		}
		items = append(items, it)
	}
	Sort(items)
	return items, nil
}
