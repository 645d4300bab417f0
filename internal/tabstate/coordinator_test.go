package tabstate

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/idlocator/internal/locator"
)

type stubSurface struct {
	mu         sync.Mutex
	candidates []locator.Candidate
	opened     []string
	notices    []locator.Notice
	blocked    bool
	regions    int

	// entered and gate, when set, hold EnumerateCandidates open.
	entered chan struct{}
	gate    chan struct{}
}

func (s *stubSurface) EnumerateCandidates(context.Context) ([]locator.Candidate, locator.Viewport, error) {
	if s.gate != nil {
		close(s.entered)
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.candidates), locator.Viewport{Width: 1024, Height: 768}, nil
}

func (s *stubSurface) RenderRegions(_ context.Context, regions []locator.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = len(regions)
	return nil
}

func (s *stubSurface) RemoveAllRegions(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = 0
	return nil
}

func (s *stubSurface) BlockInteraction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = true
	return nil
}

func (s *stubSurface) UnblockInteraction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = false
	return nil
}

func (s *stubSurface) pageState() (blocked bool, regions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked, s.regions
}

func (s *stubSurface) SetBusy(context.Context, bool) error                 { return nil }
func (s *stubSurface) ShowLabel(context.Context, int, locator.Label) error { return nil }
func (s *stubSurface) HideLabel(context.Context, int) error                { return nil }

func (s *stubSurface) Notify(_ context.Context, n locator.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	return nil
}

func (s *stubSurface) Open(_ context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, uri)
	return nil
}

func (s *stubSurface) openedURIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.opened)
}

type stubProvider struct {
	mu       sync.Mutex
	surface  *stubSurface
	err      error
	released []string
}

func (p *stubProvider) Surface(context.Context, string) (locator.Surface, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.surface, nil
}

func (p *stubProvider) Release(tabID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, tabID)
}

type stubResolver struct {
	mu      sync.Mutex
	result  locator.Result
	release chan struct{}
	calls   []string
}

func (r *stubResolver) Resolve(ctx context.Context, pattern string, _ []string) locator.Result {
	r.mu.Lock()
	r.calls = append(r.calls, pattern)
	release := r.release
	r.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return locator.TransportError(ctx.Err().Error())
		}
	}
	return r.result
}

func (r *stubResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type staticSettings struct{ snap locator.Snapshot }

func (s staticSettings) Snapshot() locator.Snapshot { return s.snap.Clone() }

type lookupRecord struct {
	tabID string
	query locator.Query
	res   locator.Result
}

type stubRecorder struct {
	mu      sync.Mutex
	records []lookupRecord
}

func (r *stubRecorder) RecordLookup(tabID string, q locator.Query, res locator.Result, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, lookupRecord{tabID: tabID, query: q, res: res})
}

type indicatorLog struct {
	ch chan Indicator
}

func newIndicatorLog() *indicatorLog { return &indicatorLog{ch: make(chan Indicator, 64)} }

func (l *indicatorLog) PublishIndicator(ind Indicator) { l.ch <- ind }

func (l *indicatorLog) waitFor(t *testing.T, want Indicator) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-l.ch:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for indicator %+v", want)
		}
	}
}

type fixture struct {
	coord      *Coordinator
	surface    *stubSurface
	provider   *stubProvider
	resolver   *stubResolver
	recorder   *stubRecorder
	indicators *indicatorLog
}

func newFixture(t *testing.T, result locator.Result) *fixture {
	t.Helper()
	surface := &stubSurface{candidates: []locator.Candidate{{Identifier: "login-btn"}}}
	f := &fixture{
		surface:    surface,
		provider:   &stubProvider{surface: surface},
		resolver:   &stubResolver{result: result},
		recorder:   &stubRecorder{},
		indicators: newIndicatorLog(),
	}
	f.coord = New(Deps{
		Resolver: f.resolver,
		Settings: staticSettings{snap: locator.Snapshot{
			Patterns:        locator.PatternSet{FileTypes: []string{"js", "jsx", "ts", "tsx"}},
			PreferredEditor: "vscode",
		}},
		Surfaces:  f.provider,
		Publisher: f.indicators,
		Recorder:  f.recorder,
	})
	t.Cleanup(f.coord.Close)
	return f
}

func TestToggleEnablesAndDisables(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	ctx := context.Background()

	s, ignored, err := f.coord.Toggle(ctx, "tab-1")
	if err != nil || ignored {
		t.Fatalf("Toggle() = %+v, %v, %v", s, ignored, err)
	}
	if !s.Enabled || s.Loading {
		t.Fatalf("session = %+v; want enabled and not loading", s)
	}
	f.indicators.waitFor(t, Indicator{TabID: "tab-1", Enabled: true, State: IndicatorEnabled})
	if got := f.coord.OverlayState("tab-1"); got != locator.StateReady {
		t.Fatalf("OverlayState() = %v; want ready", got)
	}

	s, ignored, err = f.coord.Toggle(ctx, "tab-1")
	if err != nil || ignored {
		t.Fatalf("second Toggle() = %+v, %v, %v", s, ignored, err)
	}
	if s.Enabled {
		t.Fatalf("session = %+v; want disabled", s)
	}
	f.indicators.waitFor(t, Indicator{TabID: "tab-1", State: IndicatorDisabled})
}

func TestToggleIgnoredWhileLoading(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	f.resolver.release = make(chan struct{})
	ctx := context.Background()

	if _, _, err := f.coord.Toggle(ctx, "tab-1"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if err := f.coord.Click(ctx, "tab-1", 0); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	f.indicators.waitFor(t, Indicator{TabID: "tab-1", Enabled: true, Loading: true, State: IndicatorProcessing})

	s, ignored, err := f.coord.Toggle(ctx, "tab-1")
	if err != nil {
		t.Fatalf("Toggle() while loading error = %v", err)
	}
	if !ignored || !s.Loading {
		t.Fatalf("Toggle() while loading = %+v ignored=%v; want ignored", s, ignored)
	}
	if err := f.coord.Click(ctx, "tab-1", 0); err != nil {
		t.Fatalf("second Click() error = %v", err)
	}
	if err := f.coord.Cancel(ctx, "tab-1"); err != nil {
		t.Fatalf("Cancel() while loading error = %v", err)
	}

	close(f.resolver.release)
	f.indicators.waitFor(t, Indicator{TabID: "tab-1", State: IndicatorDisabled})
	if got := f.resolver.callCount(); got != 1 {
		t.Fatalf("resolver called %d times; want 1", got)
	}
}

func TestResolutionRecordsAndOpensEditor(t *testing.T) {
	f := newFixture(t, locator.Found("/src/Login.tsx"))
	ctx := context.Background()

	if _, _, err := f.coord.Toggle(ctx, "tab-1"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if err := f.coord.Click(ctx, "tab-1", 0); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	f.indicators.waitFor(t, Indicator{TabID: "tab-1", State: IndicatorDisabled})

	if got, want := f.surface.openedURIs(), []string{"vscode://file/src/Login.tsx"}; !slices.Equal(got, want) {
		t.Fatalf("opened = %v; want %v", got, want)
	}
	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	if len(f.recorder.records) != 1 {
		t.Fatalf("recorded %d lookups; want 1", len(f.recorder.records))
	}
	rec := f.recorder.records[0]
	if rec.tabID != "tab-1" || rec.query.Identifier != "login-btn" || rec.res.Kind != locator.ResultFound {
		t.Fatalf("record = %+v", rec)
	}
	if s, ok := f.coord.Session("tab-1"); !ok || s.Enabled || s.Loading {
		t.Fatalf("session after resolution = %+v, %v; want present and idle", s, ok)
	}
}

func TestNavigationCompleteResetsSession(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	ctx := context.Background()

	if _, _, err := f.coord.Toggle(ctx, "tab-1"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	f.coord.NavigationComplete("tab-1")
	f.indicators.waitFor(t, Indicator{TabID: "tab-1", State: IndicatorDisabled})

	if _, ok := f.coord.Session("tab-1"); ok {
		t.Fatal("session survived navigation")
	}
	if got := f.coord.OverlayState("tab-1"); got != locator.StateIdle {
		t.Fatalf("OverlayState() = %v; want idle", got)
	}

	s, _, err := f.coord.Toggle(ctx, "tab-1")
	if err != nil {
		t.Fatalf("Toggle() after navigation error = %v", err)
	}
	if !s.Enabled {
		t.Fatalf("session after navigation toggle = %+v; want enabled", s)
	}
}

func TestNavigationCompleteClearsOverlay(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	ctx := context.Background()

	if _, _, err := f.coord.Toggle(ctx, "tab-1"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if blocked, regions := f.surface.pageState(); !blocked || regions != 1 {
		t.Fatalf("page before navigation: blocked=%v regions=%d", blocked, regions)
	}

	f.coord.NavigationComplete("tab-1")
	if blocked, regions := f.surface.pageState(); blocked || regions != 0 {
		t.Fatalf("page after navigation: blocked=%v regions=%d; want cleared", blocked, regions)
	}

	if err := f.coord.Cancel(ctx, "tab-1"); err != nil {
		t.Fatalf("Cancel() after navigation error = %v", err)
	}
	if err := f.coord.Click(ctx, "tab-1", 0); err != nil {
		t.Fatalf("Click() after navigation error = %v", err)
	}
	if got := f.resolver.callCount(); got != 0 {
		t.Fatalf("resolver called %d times; want 0", got)
	}
}

func TestToggleOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	f.surface.entered = make(chan struct{})
	f.surface.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	type toggleResult struct {
		s   Session
		err error
	}
	done := make(chan toggleResult, 1)
	go func() {
		s, _, err := f.coord.Toggle(ctx, "tab-1")
		done <- toggleResult{s: s, err: err}
	}()

	<-f.surface.entered
	cancel()
	close(f.surface.gate)

	var res toggleResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Toggle() did not return")
	}
	if res.err != nil {
		t.Fatalf("Toggle() error = %v", res.err)
	}
	if !res.s.Enabled {
		t.Fatalf("session = %+v; want enabled", res.s)
	}
	if got := f.coord.OverlayState("tab-1"); got != locator.StateReady {
		t.Fatalf("OverlayState() = %v; want ready", got)
	}
	if blocked, _ := f.surface.pageState(); !blocked {
		t.Fatal("page not blocked while overlay is ready")
	}

	s, _, err := f.coord.Toggle(context.Background(), "tab-1")
	if err != nil || s.Enabled {
		t.Fatalf("second Toggle() = %+v, %v; want disabled", s, err)
	}
	if blocked, regions := f.surface.pageState(); blocked || regions != 0 {
		t.Fatalf("page after disable: blocked=%v regions=%d", blocked, regions)
	}
}

func TestFocusChangedDoesNotCreateSession(t *testing.T) {
	f := newFixture(t, locator.NotFound())

	ind := f.coord.FocusChanged("tab-9")
	if ind != (Indicator{TabID: "tab-9", State: IndicatorDisabled}) {
		t.Fatalf("FocusChanged() = %+v", ind)
	}
	if _, ok := f.coord.Session("tab-9"); ok {
		t.Fatal("FocusChanged created a session")
	}
	if got := f.coord.Sessions(); len(got) != 0 {
		t.Fatalf("Sessions() = %+v; want none", got)
	}
}

func TestToggleSurfaceFailure(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	f.provider.err = errors.New("tab not found")

	if _, _, err := f.coord.Toggle(context.Background(), "tab-missing"); err == nil {
		t.Fatal("Toggle() error = nil; want surface error")
	}
	if _, ok := f.coord.Session("tab-missing"); ok {
		t.Fatal("session created for unreachable tab")
	}
}

func TestClosedReleasesSurface(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	if _, _, err := f.coord.Toggle(context.Background(), "tab-1"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	f.coord.Closed("tab-1")

	if _, ok := f.coord.Session("tab-1"); ok {
		t.Fatal("session survived close")
	}
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if !slices.Equal(f.provider.released, []string{"tab-1"}) {
		t.Fatalf("released = %v; want [tab-1]", f.provider.released)
	}
}

func TestSessionsSortedByTab(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	ctx := context.Background()
	for _, id := range []string{"tab-b", "tab-a", "tab-c"} {
		if _, _, err := f.coord.Toggle(ctx, id); err != nil {
			t.Fatalf("Toggle(%s) error = %v", id, err)
		}
	}
	var ids []string
	for _, s := range f.coord.Sessions() {
		ids = append(ids, s.TabID)
	}
	if !slices.Equal(ids, []string{"tab-a", "tab-b", "tab-c"}) {
		t.Fatalf("Sessions() order = %v", ids)
	}
}

func TestToggleAfterClose(t *testing.T) {
	f := newFixture(t, locator.NotFound())
	f.coord.Close()
	if _, _, err := f.coord.Toggle(context.Background(), "tab-1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Toggle() error = %v; want ErrClosed", err)
	}
}
