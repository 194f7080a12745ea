package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamnewsbot/internal/appindex"
	logx "steamnewsbot/pkg/logx"
)

func openTestIndex(t *testing.T) *appindex.Index {
	t.Helper()
	ix, err := appindex.Open(filepath.Join(t.TempDir(), "apps.db"), logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"applist": {"apps": [
				{"appid": 440, "name": "Team Fortress 2"},
				{"appid": 570, "name": "Dota 2"},
				{"appid": 999, "name": ""},
				{"appid": 400, "name": "Portal"}
			]}
		}`))
	}))
	t.Cleanup(srv.Close)

	ix := openTestIndex(t)
	stats, err := Refresh(context.Background(), srv.Client(), srv.URL, ix, logx.Nop())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Fetched)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, stats.Upserted)
	assert.EqualValues(t, 3, stats.Total)

	name, ok, err := ix.NameByID(context.Background(), 570)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Dota 2", name)
}

func TestRefreshOverwritesNames(t *testing.T) {
	t.Parallel()

	ix := openTestIndex(t)
	_, err := ix.Upsert(context.Background(), []appindex.Entry{{AppID: 440, Name: "Old Name"}})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"applist":{"apps":[{"appid":440,"name":"Team Fortress 2"}]}}`))
	}))
	t.Cleanup(srv.Close)

	_, err = Refresh(context.Background(), srv.Client(), srv.URL, ix, logx.Nop())
	require.NoError(t, err)

	name, ok, err := ix.NameByID(context.Background(), 440)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Team Fortress 2", name)
}

func TestRefreshHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	ix := openTestIndex(t)
	_, err := Refresh(context.Background(), srv.Client(), srv.URL, ix, logx.Nop())
	assert.Error(t, err)

	count, err := ix.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, count, "failed refresh must not touch the index")
}

func TestRefreshMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"applist": [broken`))
	}))
	t.Cleanup(srv.Close)

	ix := openTestIndex(t)
	_, err := Refresh(context.Background(), srv.Client(), srv.URL, ix, logx.Nop())
	assert.Error(t, err)
}
