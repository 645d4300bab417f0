package relay

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgnsrekt/idlocator/internal/tabstate"
)

// FeedIndicator is the SSE event name for tab indicator updates.
const FeedIndicator = "indicator"

// IndicatorFeed publishes tab indicators to a Broker and remembers the last
// one per tab for clients that connect later.
type IndicatorFeed struct {
	broker *Broker

	mu   sync.Mutex
	last map[string]Event
}

func NewIndicatorFeed(broker *Broker) *IndicatorFeed {
	return &IndicatorFeed{broker: broker, last: make(map[string]Event)}
}

// PublishIndicator implements tabstate.Publisher.
func (f *IndicatorFeed) PublishIndicator(ind tabstate.Indicator) {
	payload, err := json.Marshal(ind)
	if err != nil {
		slog.Error("indicator marshal failed", "tab_id", ind.TabID, "error", err)
		return
	}
	evt := Event{Feed: FeedIndicator, Payload: string(payload)}

	f.mu.Lock()
	if ind.State == tabstate.IndicatorDisabled {
		delete(f.last, ind.TabID)
	} else {
		f.last[ind.TabID] = evt
	}
	f.mu.Unlock()

	n := f.broker.Publish(evt)
	slog.Debug("indicator published", "tab_id", ind.TabID, "state", ind.State, "clients", n)
}

// Current returns the retained indicator events ordered by tab ID.
func (f *IndicatorFeed) Current() []Event {
	f.mu.Lock()
	ids := make([]string, 0, len(f.last))
	for id := range f.last {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.last[id])
	}
	f.mu.Unlock()
	return out
}
