package cdp

import (
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/idlocator/internal/storage"
)

// TabRecord is what the watcher knows about one attached tab.
type TabRecord struct {
	TabID       string    `json:"tab_id"`
	URL         string    `json:"url"`
	PathSegment string    `json:"path_segment"`
	BrowserID   string    `json:"browser_id"`
	Loads       int       `json:"loads"`
	LastLoad    time.Time `json:"last_load,omitzero"`
}

// TabRegistry maps CDP target IDs to tab metadata.
type TabRegistry struct {
	tabs map[target.ID]*TabRecord
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*TabRecord)}
}

// Register records or updates the tab's URL. Load counters survive updates.
func (r *TabRegistry) Register(targetID target.ID, url string) (TabRecord, error) {
	pathSegment, err := storage.PageSegment(url)
	if err != nil {
		return TabRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tabs[targetID]
	if !ok {
		rec = &TabRecord{
			TabID:     string(targetID),
			BrowserID: storage.ShortTargetID(string(targetID)),
		}
		r.tabs[targetID] = rec
	}
	rec.URL = url
	rec.PathSegment = pathSegment
	return *rec, nil
}

// MarkLoaded counts a completed page load.
func (r *TabRegistry) MarkLoaded(targetID target.ID, at time.Time) (TabRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tabs[targetID]
	if !ok {
		return TabRecord{}, false
	}
	rec.Loads++
	rec.LastLoad = at
	return *rec, true
}

func (r *TabRegistry) Get(targetID target.ID) (TabRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tabs[targetID]
	if !ok {
		return TabRecord{}, false
	}
	return *rec, true
}

func (r *TabRegistry) GetByStringID(tabID string) (TabRecord, bool) {
	return r.Get(target.ID(tabID))
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, targetID)
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}

// List returns all records ordered by tab ID.
func (r *TabRegistry) List() []TabRecord {
	r.mu.RLock()
	out := make([]TabRecord, 0, len(r.tabs))
	for _, rec := range r.tabs {
		out = append(out, *rec)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}
