// Package tabstate owns per-tab activation state and routes host signals to
// each tab's overlay engine.
package tabstate

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/idlocator/internal/locator"
)

// stopWait bounds how long a navigation waits for the old overlay to clear.
const stopWait = 6 * time.Second

// ErrClosed is returned by Toggle after Close.
var ErrClosed = errors.New("coordinator closed")

// Session is the activation record of one tab.
type Session struct {
	TabID   string `json:"tab_id"`
	Enabled bool   `json:"enabled"`
	Loading bool   `json:"loading"`
}

// Indicator values.
const (
	IndicatorDisabled   = "disabled"
	IndicatorEnabled    = "enabled"
	IndicatorProcessing = "processing"
)

// Indicator is published to the host UI on every session change.
type Indicator struct {
	TabID   string `json:"tab_id"`
	Enabled bool   `json:"enabled"`
	Loading bool   `json:"loading"`
	State   string `json:"state"`
}

func indicatorFor(s Session) Indicator {
	ind := Indicator{TabID: s.TabID, Enabled: s.Enabled, Loading: s.Loading, State: IndicatorDisabled}
	switch {
	case s.Loading:
		ind.State = IndicatorProcessing
	case s.Enabled:
		ind.State = IndicatorEnabled
	}
	return ind
}

// Resolver performs one lookup against the resolution service.
type Resolver interface {
	Resolve(ctx context.Context, searchPattern string, fileTypes []string) locator.Result
}

// SettingsSource supplies the configuration snapshot for an activation.
type SettingsSource interface {
	Snapshot() locator.Snapshot
}

// SurfaceProvider attaches to a tab's page.
type SurfaceProvider interface {
	Surface(ctx context.Context, tabID string) (locator.Surface, error)
	Release(tabID string)
}

// Publisher receives indicator updates.
type Publisher interface {
	PublishIndicator(Indicator)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Indicator)

func (f PublisherFunc) PublishIndicator(ind Indicator) { f(ind) }

// Recorder stores the outcome of every lookup.
type Recorder interface {
	RecordLookup(tabID string, q locator.Query, r locator.Result, elapsed time.Duration)
}

// Deps groups the Coordinator's collaborators. Recorder and EngineOptions
// are optional.
type Deps struct {
	Resolver      Resolver
	Settings      SettingsSource
	Surfaces      SurfaceProvider
	Publisher     Publisher
	Recorder      Recorder
	EngineOptions []locator.Option
}

type tab struct {
	session Session
	gen     uint64
	engine  *locator.Engine
	cancel  context.CancelFunc

	// ops serializes toggles so engine calls arrive in flag order.
	ops sync.Mutex
}

// Coordinator is the registry of tab sessions.
type Coordinator struct {
	deps Deps

	mu     sync.Mutex
	tabs   map[string]*tab
	gen    uint64
	closed bool
}

func New(deps Deps) *Coordinator {
	return &Coordinator{deps: deps, tabs: make(map[string]*tab)}
}

// Toggle flips the tab's enabled flag and starts or stops the overlay. The
// request is ignored, with ignored set, while a resolution is in flight.
func (c *Coordinator) Toggle(ctx context.Context, tabID string) (Session, bool, error) {
	t, err := c.ensure(ctx, tabID)
	if err != nil {
		return Session{}, false, err
	}
	t.ops.Lock()
	defer t.ops.Unlock()

	c.mu.Lock()
	if c.tabs[tabID] != t {
		c.mu.Unlock()
		return Session{TabID: tabID}, true, nil
	}
	if t.session.Loading {
		s := t.session
		c.mu.Unlock()
		slog.Debug("toggle ignored while loading", "tab_id", tabID)
		return s, true, nil
	}
	t.session.Enabled = !t.session.Enabled
	enabled := t.session.Enabled
	s := t.session
	c.mu.Unlock()
	c.publish(s)

	// The engine finishes the transition even if the caller goes away, so the
	// flag is settled by its reply rather than by ctx.
	wctx := context.WithoutCancel(ctx)
	if enabled {
		err = t.engine.Activate(wctx)
	} else {
		err = t.engine.Deactivate(wctx)
	}
	if errors.Is(err, locator.ErrReentrancyRejected) {
		c.setEnabled(t, !enabled)
		slog.Debug("toggle rejected by engine", "tab_id", tabID)
		s, _ := c.Session(tabID)
		return s, true, nil
	}
	if errors.Is(err, locator.ErrEngineClosed) {
		slog.Debug("toggle raced session reset", "tab_id", tabID)
		return Session{TabID: tabID}, true, nil
	}
	if err != nil {
		// A failed activation reports itself through LoadingChanged; a failed
		// deactivation leaves the flag cleared.
		c.setEnabled(t, false)
		slog.Warn("toggle failed", "tab_id", tabID, "enabled", enabled, "error", err)
		s, _ := c.Session(tabID)
		return s, false, err
	}
	s, _ = c.Session(tabID)
	return s, false, nil
}

// Cancel is the user backing out of an active selection.
func (c *Coordinator) Cancel(ctx context.Context, tabID string) error {
	e := c.engine(tabID)
	if e == nil {
		return nil
	}
	if err := e.Cancel(ctx); err != nil && !errors.Is(err, locator.ErrReentrancyRejected) {
		return err
	}
	return nil
}

// Click routes a region click from the page.
func (c *Coordinator) Click(ctx context.Context, tabID string, regionID int) error {
	e := c.engine(tabID)
	if e == nil {
		return nil
	}
	err := e.Click(ctx, regionID)
	switch {
	case errors.Is(err, locator.ErrReentrancyRejected):
		slog.Debug("click ignored while resolving", "tab_id", tabID, "region_id", regionID)
		return nil
	case errors.Is(err, locator.ErrNotReady):
		return nil
	}
	return err
}

// Hover routes a region hover from the page.
func (c *Coordinator) Hover(ctx context.Context, tabID string, regionID int, enter bool) error {
	e := c.engine(tabID)
	if e == nil {
		return nil
	}
	return e.Hover(ctx, regionID, enter)
}

// SetLoading records the tab's loading and enabled flags and publishes them.
// Tabs without a session are ignored.
func (c *Coordinator) SetLoading(tabID string, loading, enabled bool) {
	c.mu.Lock()
	t, ok := c.tabs[tabID]
	if !ok {
		c.mu.Unlock()
		return
	}
	t.session.Loading = loading
	t.session.Enabled = enabled
	s := t.session
	c.mu.Unlock()
	c.publish(s)
}

// NavigationComplete discards the tab's session. The load event can also fire
// for the document the overlay was drawn on, so the engine clears the page
// before it stops.
func (c *Coordinator) NavigationComplete(tabID string) {
	if c.drop(tabID, true) {
		slog.Info("tab session reset on navigation", "tab_id", tabID)
	}
	c.publish(Session{TabID: tabID})
}

// Closed discards the tab's session and releases its page surface.
func (c *Coordinator) Closed(tabID string) {
	c.drop(tabID, false)
	if c.deps.Surfaces != nil {
		c.deps.Surfaces.Release(tabID)
	}
}

// FocusChanged republishes the indicator for the focused tab without
// creating a session.
func (c *Coordinator) FocusChanged(tabID string) Indicator {
	s, ok := c.Session(tabID)
	if !ok {
		s = Session{TabID: tabID}
	}
	ind := indicatorFor(s)
	if c.deps.Publisher != nil {
		c.deps.Publisher.PublishIndicator(ind)
	}
	return ind
}

// Resolve runs one lookup for tabID and records it.
func (c *Coordinator) Resolve(ctx context.Context, tabID string, q locator.Query, snap locator.Snapshot) locator.Result {
	start := time.Now()
	res := c.deps.Resolver.Resolve(ctx, q.SearchPattern, q.FileTypes)
	elapsed := time.Since(start)
	slog.Info("lookup finished",
		"tab_id", tabID,
		"identifier", q.Identifier,
		"group_key", q.GroupKey,
		"outcome", res.Kind.String(),
		"editor", snap.PreferredEditor,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	if c.deps.Recorder != nil {
		c.deps.Recorder.RecordLookup(tabID, q, res, elapsed)
	}
	return res
}

// Session returns the tab's session if one exists.
func (c *Coordinator) Session(tabID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tabs[tabID]
	if !ok {
		return Session{}, false
	}
	return t.session, true
}

// OverlayState reports the engine state for tabID; tabs without a session
// are idle.
func (c *Coordinator) OverlayState(tabID string) locator.State {
	if e := c.engine(tabID); e != nil {
		return e.State()
	}
	return locator.StateIdle
}

// Sessions lists every live session ordered by tab ID.
func (c *Coordinator) Sessions() []Session {
	c.mu.Lock()
	out := make([]Session, 0, len(c.tabs))
	for _, t := range c.tabs {
		out = append(out, t.session)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Close stops every engine. Later calls to Toggle fail.
func (c *Coordinator) Close() {
	c.mu.Lock()
	tabs := c.tabs
	c.tabs = make(map[string]*tab)
	c.closed = true
	c.mu.Unlock()
	for _, t := range tabs {
		t.engine.Close()
		t.cancel()
	}
}

func (c *Coordinator) ensure(ctx context.Context, tabID string) (*tab, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if t, ok := c.tabs[tabID]; ok {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	surface, err := c.deps.Surfaces.Surface(ctx, tabID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if t, ok := c.tabs[tabID]; ok {
		return t, nil
	}
	c.gen++
	host := &tabHost{c: c, tabID: tabID, gen: c.gen}
	runCtx, cancel := context.WithCancel(context.Background())
	t := &tab{
		session: Session{TabID: tabID},
		gen:     c.gen,
		engine:  locator.NewEngine(tabID, surface, host, c.deps.EngineOptions...),
		cancel:  cancel,
	}
	c.tabs[tabID] = t
	go t.engine.Run(runCtx)
	slog.Debug("tab session created", "tab_id", tabID)
	return t, nil
}

// drop removes the tab's session. With teardown set it waits for the engine to
// clear its overlay; otherwise the engine stops without touching the page.
func (c *Coordinator) drop(tabID string, teardown bool) bool {
	c.mu.Lock()
	t, ok := c.tabs[tabID]
	delete(c.tabs, tabID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	if !teardown {
		t.engine.Close()
		t.cancel()
		return true
	}
	t.cancel()
	select {
	case <-t.engine.Done():
	case <-time.After(stopWait):
		slog.Warn("overlay teardown still running", "tab_id", tabID)
	}
	return true
}

func (c *Coordinator) engine(tabID string) *locator.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tabs[tabID]; ok {
		return t.engine
	}
	return nil
}

func (c *Coordinator) setEnabled(t *tab, enabled bool) {
	c.mu.Lock()
	if c.tabs[t.session.TabID] != t {
		c.mu.Unlock()
		return
	}
	t.session.Enabled = enabled
	s := t.session
	c.mu.Unlock()
	c.publish(s)
}

func (c *Coordinator) publish(s Session) {
	if c.deps.Publisher == nil {
		return
	}
	c.deps.Publisher.PublishIndicator(indicatorFor(s))
}

// tabHost is the engine's handle on the coordinator. Calls from an engine
// whose session was discarded are dropped.
type tabHost struct {
	c     *Coordinator
	tabID string
	gen   uint64
}

func (h *tabHost) current() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	t, ok := h.c.tabs[h.tabID]
	return ok && t.gen == h.gen
}

func (h *tabHost) Snapshot() locator.Snapshot {
	return h.c.deps.Settings.Snapshot()
}

func (h *tabHost) Resolve(ctx context.Context, q locator.Query, snap locator.Snapshot) locator.Result {
	return h.c.Resolve(ctx, h.tabID, q, snap)
}

func (h *tabHost) LoadingChanged(loading, enabled bool) {
	if !h.current() {
		return
	}
	h.c.SetLoading(h.tabID, loading, enabled)
}
