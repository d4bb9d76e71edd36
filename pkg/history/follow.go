package history

import (
	"context"
	"errors"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/tabs"
)

// Apply records one directory event. Events without a URL are completed
// with a directory lookup when dir is set; an activation of a tab the
// directory no longer knows is dropped.
func (s *Store) Apply(ctx context.Context, ev tabs.Event, dir tabs.Directory) {
	log := logx.WithTab(s.log, ev.TabID)
	url := ev.URL
	if url == "" && dir != nil && ev.Kind != tabs.EventRemoved {
		tab, err := dir.Get(ctx, ev.TabID)
		switch {
		case errors.Is(err, tabs.ErrNotFound):
			log.Debug("event for closed tab dropped", "kind", ev.Kind)
			return
		case err != nil:
			log.Debug("event lookup failed", "kind", ev.Kind, "err", err)
		default:
			url = tab.URL
		}
	}
	switch ev.Kind {
	case tabs.EventActivated:
		s.RecordActivation(ctx, ev.TabID, url)
	case tabs.EventRemoved:
		s.RecordRemoval(ctx, ev.TabID)
	case tabs.EventUpdated:
		s.RecordNavigation(ctx, ev.TabID, url)
	default:
		log.Debug("unknown event kind", "kind", ev.Kind)
	}
}

// Follow applies events in arrival order until ctx is done or events is
// closed.
func (s *Store) Follow(ctx context.Context, events <-chan tabs.Event, dir tabs.Directory) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Apply(ctx, ev, dir)
		}
	}
}
