// Package catalog refreshes the app-name index from the Steam GetAppList
// endpoint.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"steamnewsbot/internal/appindex"
	"steamnewsbot/internal/feeds"
	logx "steamnewsbot/pkg/logx"
)

// Stats summarizes one refresh run.
type Stats struct {
	Fetched  int   // entries in the catalog response
	Skipped  int   // entries with blank names
	Upserted int   // rows written
	Total    int64 // index size after the refresh
}

type appListResponse struct {
	AppList struct {
		Apps []struct {
			AppID feeds.AppID `json:"appid"`
			Name  string      `json:"name"`
		} `json:"apps"`
	} `json:"applist"`
}

// upsertBatch keeps individual transactions bounded; the full catalog runs to
// six figures of rows.
const upsertBatch = 5000

// Refresh downloads the full app catalog from url and upserts it into the
// index. Existing rows keep their ids and get the latest names; rows absent
// from the response are left alone.
func Refresh(ctx context.Context, client *http.Client, url string, ix *appindex.Index, log logx.Logger) (Stats, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Stats{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch app list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Stats{}, fmt.Errorf("fetch app list: unexpected status %s", resp.Status)
	}

	var parsed appListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Stats{}, fmt.Errorf("decode app list: %w", err)
	}

	stats := Stats{Fetched: len(parsed.AppList.Apps)}
	batch := make([]appindex.Entry, 0, upsertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := ix.Upsert(ctx, batch)
		if err != nil {
			return fmt.Errorf("upsert app list batch: %w", err)
		}
		stats.Upserted += n
		batch = batch[:0]
		return nil
	}

	for _, app := range parsed.AppList.Apps {
		if strings.TrimSpace(app.Name) == "" {
			stats.Skipped++
			continue
		}
		batch = append(batch, appindex.Entry{AppID: app.AppID, Name: app.Name})
		if len(batch) >= upsertBatch {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	stats.Total, err = ix.Count(ctx)
	if err != nil {
		return stats, err
	}

	log.Info("app catalog refreshed",
		logx.Int("fetched", stats.Fetched),
		logx.Int("skipped", stats.Skipped),
		logx.Int("upserted", stats.Upserted),
		logx.Int64("total", stats.Total),
		logx.Duration("took", time.Since(started)))
	return stats, nil
}
