// Command catalog refreshes the app-name index from the Steam catalog and
// exits. Meant for cron or a systemd timer; the bot can also refresh in
// process via index.refresh.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"steamnewsbot/internal/appindex"
	"steamnewsbot/internal/catalog"
	"steamnewsbot/internal/config"
	logx "steamnewsbot/pkg/logx"
)

func main() {
	var (
		cfgPath string
		query   string
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.StringVar(&query, "search", "", "search the index instead of refreshing it")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	log := logx.NewConsole(cfg.Logging.Level)
	ix, err := appindex.Open(cfg.Index.Path, log)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer ix.Close()

	if query != "" {
		entries, err := ix.Search(ctx, query, 20)
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%10d  %s\n", e.AppID, e.Name)
		}
		return
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	stats, err := catalog.Refresh(ctx, client, cfg.Steam.AppListURL, ix, log)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	fmt.Printf("fetched %d, skipped %d, upserted %d, index size %d\n",
		stats.Fetched, stats.Skipped, stats.Upserted, stats.Total)
}
