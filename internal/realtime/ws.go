package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crm-platform/pkg/logger"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// StreamOptions tunes the websocket push stream.
type StreamOptions struct {
	OriginPatterns []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// Stream upgrades the request and forwards the tenant's notices until the
// client goes away. Clients only ever read; anything they send is discarded.
func Stream(w http.ResponseWriter, r *http.Request, sub Subscriber, tenantID string, opts StreamOptions) error {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := conn.CloseRead(r.Context())
	notices, cancel, err := sub.Subscribe(ctx, tenantID)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, "subscribe failed")
		return err
	}
	defer cancel()

	log := logger.From(r.Context())
	ping := time.NewTicker(opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case n, ok := <-notices:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription ended")
				return nil
			}
			if err := writeTimeout(ctx, opts.WriteTimeout, func(ctx context.Context) error {
				return wsjson.Write(ctx, conn, n)
			}); err != nil {
				return ignoreClosed(err)
			}
		case <-ping.C:
			if err := writeTimeout(ctx, opts.WriteTimeout, conn.Ping); err != nil {
				log.Debug("realtime ping failed", "tenant_id", tenantID, "err", err)
				return ignoreClosed(err)
			}
		}
	}
}

func writeTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func ignoreClosed(err error) error {
	if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dial connects to a Stream endpoint and returns the decoded notices.
// The channel closes when the connection ends; callers reconnect as needed.
func Dial(ctx context.Context, url string, header http.Header) (<-chan Notice, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	out := make(chan Notice, 64)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			var n Notice
			if err := wsjson.Read(ctx, conn, &n); err != nil {
				return
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
