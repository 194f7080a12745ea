package state

import (
	"context"
	"sort"

	"steamnewsbot/internal/feeds"
	logx "steamnewsbot/pkg/logx"
)

// UnknownAppName is shown when the name index has no entry for an app.
const UnknownAppName = "<Unknown>"

// FetchFunc retrieves one topic's items, ascending by publication time.
type FetchFunc func(ctx context.Context, app feeds.AppID) ([]feeds.Item, error)

// NameFunc resolves an app's display name.
type NameFunc func(ctx context.Context, app feeds.AppID) (string, bool)

// Delivery is one topic's new items plus every group that should receive
// them. The caller owns actually sending messages.
type Delivery struct {
	AppID   feeds.AppID
	AppName string
	Items   []feeds.Item
	Groups  []GroupInfo
}

// CheckFeeds runs one poll cycle: fetch every actively subscribed topic,
// select items newer than each topic's watermark, advance the watermarks,
// and return the resulting deliveries.
//
// A topic that fails to fetch is logged and skipped; its watermark is
// untouched so the items are retried next cycle. Topics are visited in
// ascending app id order. Cancellation of ctx stops the cycle between
// topics; watermarks already advanced stay advanced.
func (s *State) CheckFeeds(ctx context.Context, fetch FetchFunc, nameOf NameFunc, log logx.Logger) []Delivery {
	if log.IsZero() {
		log = logx.Nop()
	}
	fanout := s.ActiveFanout()

	apps := make([]feeds.AppID, 0, len(fanout))
	for app := range fanout {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i] < apps[j] })

	var out []Delivery
	for _, app := range apps {
		if ctx.Err() != nil {
			log.Info("poll cycle canceled", logx.Int("remaining", len(apps)-len(out)))
			break
		}

		items, err := fetch(ctx, app)
		if err != nil {
			log.Warn("feed fetch failed",
				logx.String("app", app.String()),
				logx.Err(err))
			continue
		}

		wm, seen := s.Watermark(app)
		fresh := feeds.SelectNew(items, wm, seen)
		if len(fresh) == 0 {
			continue
		}

		if ts := feeds.MaxTimestamp(fresh); ts > 0 {
			s.AdvanceWatermark(app, ts)
		} else if !seen {
			// First poll delivered only undated items; still mark the topic
			// seen so the next cycle uses the watermark path.
			s.MarkSeen(app, 0)
		}

		name := UnknownAppName
		if nameOf != nil {
			if n, ok := nameOf(ctx, app); ok && n != "" {
				name = n
			}
		}

		log.Debug("new feed items",
			logx.String("app", app.String()),
			logx.String("name", name),
			logx.Int("count", len(fresh)))

		out = append(out, Delivery{
			AppID:   app,
			AppName: name,
			Items:   fresh,
			Groups:  fanout[app],
		})
	}
	return out
}
