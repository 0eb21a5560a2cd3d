package realtime

import (
	"context"
	"errors"
	"time"

	"crm-platform/pkg/logger"
)

// ErrGone is returned by a Fetcher when the row no longer exists.
var ErrGone = errors.New("realtime: row gone")

// Fetcher loads rows for the follower.
type Fetcher interface {
	FetchOne(ctx context.Context, conversationID string) (Item, error)
	FetchAll(ctx context.Context) ([]Item, error)
}

// Follower keeps a View current from push notices plus a fallback poll.
type Follower struct {
	View         *View
	Fetcher      Fetcher
	PollInterval time.Duration
	// OnChange runs after the view changed, with the sorted list.
	OnChange func([]Item)
}

// Run blocks until ctx is done. A closed notices channel only disables push;
// the poll keeps the view correct.
func (f *Follower) Run(ctx context.Context, notices <-chan Notice) error {
	if f.View == nil || f.Fetcher == nil {
		return errors.New("realtime: follower needs a view and a fetcher")
	}
	interval := f.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	log := logger.From(ctx)

	if err := f.resync(ctx); err != nil {
		log.Warn("initial resync failed", "err", err)
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			if err := f.HandleNotice(ctx, n); err != nil {
				log.Debug("notice fetch failed", "conversation_id", n.ConversationID, "err", err)
			}
		case <-t.C:
			if err := f.resync(ctx); err != nil {
				log.Warn("resync failed", "err", err)
			}
		}
	}
}

// HandleNotice fetches the single affected row unless the view already has it.
func (f *Follower) HandleNotice(ctx context.Context, n Notice) error {
	if n.ConversationID == "" {
		return nil
	}
	if !n.At.IsZero() && f.View.Has(n.ConversationID, n.At) {
		return nil
	}
	it, err := f.Fetcher.FetchOne(ctx, n.ConversationID)
	if err != nil {
		if errors.Is(err, ErrGone) {
			return nil
		}
		return err
	}
	if f.View.Apply(it) {
		f.changed()
	}
	return nil
}

func (f *Follower) resync(ctx context.Context) error {
	items, err := f.Fetcher.FetchAll(ctx)
	if err != nil {
		return err
	}
	f.View.Replace(items)
	f.changed()
	return nil
}

func (f *Follower) changed() {
	if f.OnChange != nil {
		f.OnChange(f.View.List())
	}
}
