// Command crm-watch follows a tenant's conversation list from a terminal. It
// keeps a local view current from the realtime push stream and heals it with
// a periodic full poll. With -qr it prints an instance's pairing QR code
// and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"crm-platform/internal/config"
	"crm-platform/internal/realtime"
	"crm-platform/pkg/logger"
)

func main() {
	_ = config.LoadEnvFile()

	var (
		apiURL = flag.String("api", envOr("CRM_API_URL", "http://localhost:8080"), "CRM API base URL")
		token  = flag.String("token", os.Getenv("CRM_TOKEN"), "access token")
		poll   = flag.Duration("poll", time.Minute, "full resync interval")
		limit  = flag.Int("limit", 50, "rows to fetch and show")
		qr     = flag.String("qr", "", "print the pairing QR code of this instance id and exit")
	)
	flag.Parse()

	log := logger.New(envOr("APP_ENV", "local"))
	slog.SetDefault(log)

	if *token == "" {
		log.Error("missing token; set CRM_TOKEN or -token")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.With(ctx, log)

	base := strings.TrimRight(*apiURL, "/")
	if *qr != "" {
		if err := printPairing(ctx, os.Stdout, newAPIFetcher(base, *token, *limit), *qr); err != nil {
			log.Error("qr code failed", "instance_id", *qr, "err", err)
			os.Exit(1)
		}
		return
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)

	notices := make(chan realtime.Notice, 64)
	go pump(ctx, wsURL(base), header, notices)

	f := &realtime.Follower{
		View:         realtime.NewView(),
		Fetcher:      newAPIFetcher(base, *token, *limit),
		PollInterval: *poll,
		OnChange: func(items []realtime.Item) {
			render(os.Stdout, items, *limit)
		},
	}
	if err := f.Run(ctx, notices); err != nil && ctx.Err() == nil {
		log.Error("follower stopped", "err", err)
		os.Exit(1)
	}
}

// pump keeps a websocket open and forwards notices, reconnecting with a
// capped backoff. The follower's poll covers whatever is missed meanwhile.
func pump(ctx context.Context, url string, header http.Header, out chan<- realtime.Notice) {
	log := logger.From(ctx)
	backoff := time.Second
	for ctx.Err() == nil {
		in, err := realtime.Dial(ctx, url, header)
		if err != nil {
			log.Warn("realtime dial failed", "err", err, "retry_in", backoff.String())
		} else {
			backoff = time.Second
			for n := range in {
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
			log.Info("realtime stream closed; reconnecting")
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/realtime/ws"
}

func render(w io.Writer, items []realtime.Item, limit int) {
	fmt.Fprintf(w, "\n%s  %d conversations\n", time.Now().Format("15:04:05"), len(items))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTACT\tSTATUS\tUNREAD\tLAST ACTIVITY\tPREVIEW")
	for i, it := range items {
		if i >= limit {
			break
		}
		last := "-"
		if it.LastActivityAt != nil {
			last = it.LastActivityAt.Local().Format("02/01 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", it.ContactName, it.Status, it.UnreadCount, last, it.Preview)
	}
	_ = tw.Flush()
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
