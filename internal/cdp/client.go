// Package cdp watches page tabs through chromedp and reports navigation and
// close signals for them.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/idlocator/internal/cdpcontrol"
)

const (
	DefaultRescanInterval = 2 * time.Second
	signalBuffer          = 64
)

// TabLister reports the page tabs that should be watched.
type TabLister interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
}

// Signals receives tab lifecycle notifications. Calls arrive in order on one
// goroutine.
type Signals interface {
	NavigationComplete(tabID string)
	Closed(tabID string)
}

type signalKind int

const (
	signalLoaded signalKind = iota
	signalClosed
)

type signal struct {
	kind  signalKind
	tabID string
}

// attachFunc starts watching one tab and returns the function that stops it.
type attachFunc func(info cdpcontrol.TabInfo) (context.CancelFunc, error)

// Watcher attaches to every listed tab and turns its page events into
// Signals.
type Watcher struct {
	cdpURL      string
	lister      TabLister
	signals     Signals
	tabRegistry *TabRegistry
	interval    time.Duration
	attach      attachFunc

	allocCtx    context.Context
	allocCancel context.CancelFunc

	tabs   map[target.ID]*TabContext
	tabsMu sync.RWMutex

	queue     chan signal
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type TabContext struct {
	ID     target.ID
	URL    string
	cancel context.CancelFunc
}

func NewWatcher(cdpURL string, lister TabLister, signals Signals, tabRegistry *TabRegistry) *Watcher {
	w := &Watcher{
		cdpURL:      cdpURL,
		lister:      lister,
		signals:     signals,
		tabRegistry: tabRegistry,
		interval:    DefaultRescanInterval,
		tabs:        make(map[target.ID]*TabContext),
		queue:       make(chan signal, signalBuffer),
		done:        make(chan struct{}),
	}
	w.attach = w.attachChromedp
	return w
}

// Start connects the allocator, attaches to the current tabs and keeps
// rescanning until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("Connecting tab watcher", "url", w.cdpURL)
	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(context.Background(), w.cdpURL)

	if err := w.rescan(ctx); err != nil {
		w.allocCancel()
		return fmt.Errorf("initial tab scan: %w", err)
	}
	slog.Info("Watching tabs", "count", w.GetTabCount())

	w.wg.Add(2)
	go w.deliver()
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.rescan(ctx); err != nil {
				slog.Warn("Tab rescan failed", "error", err)
			}
		}
	}
}

// rescan attaches new tabs and reports tabs that disappeared.
func (w *Watcher) rescan(ctx context.Context) error {
	listed, err := w.lister.ListTabs(ctx)
	if err != nil {
		return err
	}

	seen := make(map[target.ID]bool, len(listed))
	for _, info := range listed {
		id := target.ID(info.TabID)
		seen[id] = true
		w.tabsMu.RLock()
		_, known := w.tabs[id]
		w.tabsMu.RUnlock()
		if known {
			continue
		}
		if err := w.attachToTab(info); err != nil {
			slog.Error("Failed to watch tab", "tab_id", info.TabID, "url", truncateURL(info.URL), "error", err)
		}
	}

	w.tabsMu.RLock()
	var gone []target.ID
	for id := range w.tabs {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	w.tabsMu.RUnlock()
	for _, id := range gone {
		w.forget(id)
	}
	return nil
}

func (w *Watcher) attachToTab(info cdpcontrol.TabInfo) error {
	id := target.ID(info.TabID)
	rec, err := w.tabRegistry.Register(id, info.URL)
	if err != nil {
		return fmt.Errorf("failed to register tab: %w", err)
	}
	cancel, err := w.attach(info)
	if err != nil {
		w.tabRegistry.Remove(id)
		return err
	}

	w.tabsMu.Lock()
	w.tabs[id] = &TabContext{ID: id, URL: info.URL, cancel: cancel}
	w.tabsMu.Unlock()
	slog.Info("Watching tab", "tab_id", info.TabID, "path_segment", rec.PathSegment, "browser_id", rec.BrowserID, "url", truncateURL(info.URL))
	return nil
}

func (w *Watcher) attachChromedp(info cdpcontrol.TabInfo) (context.CancelFunc, error) {
	tabCtx, tabCancel := chromedp.NewContext(w.allocCtx, chromedp.WithTargetID(target.ID(info.TabID)))
	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to enable page domain: %w", err)
	}
	chromedp.ListenTarget(tabCtx, w.createEventHandler(info.TabID))
	chromedp.ListenBrowser(tabCtx, func(ev any) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok && string(e.TargetID) == info.TabID {
			// forget cancels this context, which waits on the event loop.
			go w.forget(e.TargetID)
		}
	})
	return tabCancel, nil
}

// createEventHandler runs on chromedp's event goroutine and must not block.
func (w *Watcher) createEventHandler(tabID string) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				if rec, err := w.tabRegistry.Register(target.ID(tabID), e.Frame.URL); err == nil {
					slog.Debug("Tab navigated", "tab_id", tabID, "path_segment", rec.PathSegment, "url", truncateURL(e.Frame.URL))
				}
			}
		case *page.EventLoadEventFired:
			w.tabRegistry.MarkLoaded(target.ID(tabID), time.Now())
			w.enqueue(signal{kind: signalLoaded, tabID: tabID})
		}
	}
}

// forget stops watching a tab and reports it closed once.
func (w *Watcher) forget(id target.ID) {
	w.tabsMu.Lock()
	tab, ok := w.tabs[id]
	delete(w.tabs, id)
	w.tabsMu.Unlock()
	if !ok {
		return
	}
	if tab.cancel != nil {
		tab.cancel()
	}
	w.tabRegistry.Remove(id)
	slog.Info("Tab closed", "tab_id", string(id))
	w.enqueue(signal{kind: signalClosed, tabID: string(id)})
}

func (w *Watcher) enqueue(s signal) {
	select {
	case w.queue <- s:
	case <-w.done:
	default:
		slog.Warn("Tab signal dropped", "tab_id", s.tabID, "kind", int(s.kind))
	}
}

func (w *Watcher) deliver() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case s := <-w.queue:
			switch s.kind {
			case signalLoaded:
				w.signals.NavigationComplete(s.tabID)
			case signalClosed:
				w.signals.Closed(s.tabID)
			}
		}
	}
}

func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.tabsMu.Lock()
	for _, tab := range w.tabs {
		if tab.cancel != nil {
			tab.cancel()
		}
	}
	w.tabs = make(map[target.ID]*TabContext)
	w.tabsMu.Unlock()

	if w.allocCancel != nil {
		w.allocCancel()
	}

	slog.Info("Tab watcher closed")
	return nil
}

func (w *Watcher) GetTabCount() int {
	w.tabsMu.RLock()
	defer w.tabsMu.RUnlock()
	return len(w.tabs)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
