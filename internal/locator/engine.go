package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/idlocator/internal/editor"
	"github.com/google/uuid"
)

const (
	inboxSize       = 64
	teardownTimeout = 5 * time.Second

	notFoundMessage  = "Element not found in the codebase."
	transportMessage = "Failed to connect to the code editor: "
)

// ErrNotReady is returned for clicks that arrive while no overlay is shown.
var ErrNotReady = errors.New("overlay not ready")

// Host is the engine's view of the tab state coordinator for its tab.
type Host interface {
	// Snapshot returns the configuration to freeze for a new activation.
	Snapshot() Snapshot
	// Resolve performs one lookup. It blocks until the lookup completes.
	Resolve(ctx context.Context, q Query, snap Snapshot) Result
	// LoadingChanged reports the tab's loading and enabled flags.
	LoadingChanged(loading, enabled bool)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTallThreshold overrides the height above which labels are centered.
func WithTallThreshold(px float64) Option {
	return func(e *Engine) { e.tallThreshold = px }
}

type activation struct {
	id       string
	snapshot Snapshot
	viewport Viewport
	regions  []Region
	groups   map[GroupKey][]int
	hovered  int
}

type (
	activateEvent   struct{ reply chan error }
	deactivateEvent struct{ reply chan error }
	cancelEvent     struct{ reply chan error }
	clickEvent      struct {
		region int
		reply  chan error
	}
	hoverEvent struct {
		region int
		enter  bool
	}
	resolvedEvent struct {
		activation string
		result     Result
	}
)

// Engine runs the overlay state machine for one tab. All events are handled
// in order by the goroutine started with Run.
type Engine struct {
	tabID         string
	surface       Surface
	host          Host
	tallThreshold float64
	colors        *ColorCache

	inbox     chan any
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	// Owned by the Run goroutine.
	session *activation
}

func NewEngine(tabID string, surface Surface, host Host, opts ...Option) *Engine {
	e := &Engine{
		tabID:         tabID,
		surface:       surface,
		host:          host,
		tallThreshold: DefaultTallThreshold,
		colors:        NewColorCache(),
		inbox:         make(chan any, inboxSize),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TabID returns the tab the engine draws on.
func (e *Engine) TabID() string { return e.tabID }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		slog.Debug("overlay state", "tab_id", e.tabID, "from", prev.String(), "to", s.String())
	}
}

// Run processes events until ctx is cancelled or Close is called. Cancelling
// ctx clears anything drawn on the page before Run returns.
func (e *Engine) Run(ctx context.Context) {
	defer e.Close()
	for {
		select {
		case <-ctx.Done():
			if e.session != nil {
				e.teardown(ctx)
				e.setState(StateIdle)
			}
			return
		case <-e.done:
			return
		case ev := <-e.inbox:
			e.handle(ctx, ev)
		}
	}
}

// Close stops the engine without touching the page. Use it once the page is
// gone; cancel Run's context to stop an engine whose page may still hold the
// overlay.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// Done is closed once the engine has stopped.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Activate enumerates candidates and shows overlays.
func (e *Engine) Activate(ctx context.Context) error {
	return e.call(ctx, func(reply chan error) any { return activateEvent{reply: reply} })
}

// Deactivate tears down overlays shown by Activate.
func (e *Engine) Deactivate(ctx context.Context) error {
	return e.call(ctx, func(reply chan error) any { return deactivateEvent{reply: reply} })
}

// Cancel is the user backing out of a selection; the coordinator is told the
// tab is disabled.
func (e *Engine) Cancel(ctx context.Context) error {
	return e.call(ctx, func(reply chan error) any { return cancelEvent{reply: reply} })
}

// Click activates one region. It returns once the click has been accepted or
// rejected; the resolution itself completes asynchronously.
func (e *Engine) Click(ctx context.Context, regionID int) error {
	return e.call(ctx, func(reply chan error) any { return clickEvent{region: regionID, reply: reply} })
}

// Hover reports the pointer entering or leaving a region.
func (e *Engine) Hover(ctx context.Context, regionID int, enter bool) error {
	return e.post(ctx, hoverEvent{region: regionID, enter: enter})
}

func (e *Engine) call(ctx context.Context, build func(chan error) any) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, build(reply)); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) post(ctx context.Context, ev any) error {
	select {
	case <-e.done:
		return ErrEngineClosed
	default:
	}
	select {
	case e.inbox <- ev:
		return nil
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case activateEvent:
		ev.reply <- e.onActivate(ctx)
	case deactivateEvent:
		ev.reply <- e.onDeactivate(ctx)
	case cancelEvent:
		ev.reply <- e.onCancel(ctx)
	case clickEvent:
		ev.reply <- e.onClick(ctx, ev.region)
	case hoverEvent:
		e.onHover(ctx, ev.region, ev.enter)
	case resolvedEvent:
		e.onResolved(ctx, ev)
	default:
		slog.Warn("overlay engine dropped unknown event", "tab_id", e.tabID, "event", fmt.Sprintf("%T", ev))
	}
}

func (e *Engine) onActivate(ctx context.Context) error {
	switch e.State() {
	case StateAwaitingResolution:
		slog.Debug("activate rejected while resolving", "tab_id", e.tabID)
		return ErrReentrancyRejected
	case StateReady:
		e.teardown(ctx)
	}
	e.setState(StateEnumerating)

	snap := e.host.Snapshot().Clone()
	norm, err := NewNormalizer(snap.Patterns.Exclusion, snap.Patterns.Grouping)
	if err != nil {
		slog.Warn("activation continuing without malformed patterns", "tab_id", e.tabID, "error", err)
	}

	candidates, vp, err := e.surface.EnumerateCandidates(ctx)
	if err != nil {
		e.abort(ctx)
		return fmt.Errorf("enumerate candidates: %w", err)
	}

	act := &activation{
		id:       uuid.NewString(),
		snapshot: snap,
		viewport: vp,
		groups:   make(map[GroupKey][]int),
		hovered:  -1,
	}
	excluded := 0
	for _, c := range candidates {
		n := norm.Normalize(c.Identifier)
		if n.Excluded {
			excluded++
			continue
		}
		col := e.colors.Get(n.GroupKey)
		r := Region{
			ID:            len(act.regions),
			Node:          c.Node,
			Box:           c.Box,
			Identifier:    c.Identifier,
			GroupKey:      n.GroupKey,
			SearchPattern: n.SearchPattern,
			Fill:          col.Fill(),
			Highlight:     col.Highlight(),
		}
		act.regions = append(act.regions, r)
		act.groups[n.GroupKey] = append(act.groups[n.GroupKey], r.ID)
	}
	e.session = act

	if err := e.surface.BlockInteraction(ctx); err != nil {
		e.abort(ctx)
		return fmt.Errorf("block interaction: %w", err)
	}
	if err := e.surface.RenderRegions(ctx, act.regions); err != nil {
		e.abort(ctx)
		return fmt.Errorf("render regions: %w", err)
	}

	e.setState(StateReady)
	slog.Info("overlay ready",
		"tab_id", e.tabID,
		"activation_id", act.id,
		"candidates", len(candidates),
		"excluded", excluded,
		"regions", len(act.regions),
		"groups", len(act.groups),
	)
	return nil
}

// abort unwinds a failed activation and tells the coordinator the tab is off.
func (e *Engine) abort(ctx context.Context) {
	e.teardown(ctx)
	e.setState(StateIdle)
	e.host.LoadingChanged(false, false)
}

func (e *Engine) onDeactivate(ctx context.Context) error {
	switch e.State() {
	case StateAwaitingResolution:
		slog.Debug("deactivate rejected while resolving", "tab_id", e.tabID)
		return ErrReentrancyRejected
	case StateIdle:
		return nil
	}
	e.teardown(ctx)
	e.setState(StateIdle)
	return nil
}

func (e *Engine) onCancel(ctx context.Context) error {
	switch e.State() {
	case StateAwaitingResolution:
		slog.Debug("cancel rejected while resolving", "tab_id", e.tabID)
		return ErrReentrancyRejected
	case StateIdle:
		return nil
	}
	e.teardown(ctx)
	e.setState(StateIdle)
	e.host.LoadingChanged(false, false)
	slog.Info("overlay cancelled", "tab_id", e.tabID)
	return nil
}

func (e *Engine) onClick(ctx context.Context, regionID int) error {
	switch e.State() {
	case StateAwaitingResolution:
		slog.Debug("click rejected while resolving", "tab_id", e.tabID, "region_id", regionID)
		return ErrReentrancyRejected
	case StateReady:
	default:
		return ErrNotReady
	}
	act := e.session
	if regionID < 0 || regionID >= len(act.regions) {
		return fmt.Errorf("%w: %d", ErrUnknownRegion, regionID)
	}
	region := act.regions[regionID]

	e.setState(StateAwaitingResolution)
	if act.hovered >= 0 {
		if err := e.surface.HideLabel(ctx, act.hovered); err != nil {
			slog.Debug("hide label failed", "tab_id", e.tabID, "error", err)
		}
		act.hovered = -1
	}
	if err := e.surface.SetBusy(ctx, true); err != nil {
		slog.Warn("busy indicator failed", "tab_id", e.tabID, "error", err)
	}
	e.host.LoadingChanged(true, true)

	q := Query{
		SearchPattern: ResolutionRegex(region.SearchPattern),
		FileTypes:     slices.Clone(act.snapshot.Patterns.FileTypes),
		Identifier:    region.Identifier,
		GroupKey:      region.GroupKey,
	}
	slog.Info("resolving element",
		"tab_id", e.tabID,
		"activation_id", act.id,
		"identifier", region.Identifier,
		"group_key", region.GroupKey,
	)

	snap := act.snapshot
	// The lookup shares Run's context. Cancelling Run abandons it and the
	// result is never delivered.
	go func() {
		result := e.host.Resolve(ctx, q, snap)
		if ctx.Err() != nil {
			slog.Debug("lookup abandoned", "tab_id", e.tabID, "activation_id", act.id)
			return
		}
		select {
		case e.inbox <- resolvedEvent{activation: act.id, result: result}:
		case <-e.done:
		}
	}()
	return nil
}

func (e *Engine) onHover(ctx context.Context, regionID int, enter bool) {
	if e.State() != StateReady {
		return
	}
	act := e.session
	if regionID < 0 || regionID >= len(act.regions) {
		return
	}
	if !enter {
		if err := e.surface.HideLabel(ctx, regionID); err != nil {
			slog.Debug("hide label failed", "tab_id", e.tabID, "error", err)
		}
		if act.hovered == regionID {
			act.hovered = -1
		}
		return
	}
	region := act.regions[regionID]
	text := string(region.GroupKey)
	label := Label{Text: text, Placement: PlaceLabel(text, region.Box, act.viewport, e.tallThreshold)}
	if err := e.surface.ShowLabel(ctx, regionID, label); err != nil {
		slog.Debug("show label failed", "tab_id", e.tabID, "error", err)
		return
	}
	act.hovered = regionID
}

func (e *Engine) onResolved(ctx context.Context, ev resolvedEvent) {
	act := e.session
	if act == nil || act.id != ev.activation || e.State() != StateAwaitingResolution {
		slog.Debug("stale resolution dropped", "tab_id", e.tabID, "activation_id", ev.activation)
		return
	}
	snap := act.snapshot

	e.teardown(ctx)
	e.setState(StateIdle)

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	switch ev.result.Kind {
	case ResultFound:
		uri := editor.URI(snap.PreferredEditor, ev.result.Path)
		slog.Info("element resolved", "tab_id", e.tabID, "path", ev.result.Path, "uri", uri)
		if err := e.surface.Open(nctx, uri); err != nil {
			slog.Warn("editor hand-off failed", "tab_id", e.tabID, "uri", uri, "error", err)
			e.notify(nctx, Notice{Kind: NoticeError, Message: transportMessage + err.Error()})
		}
	case ResultNotFound:
		slog.Info("element not found", "tab_id", e.tabID)
		e.notify(nctx, Notice{Kind: NoticeNotFound, Message: notFoundMessage})
	default:
		slog.Warn("resolution failed", "tab_id", e.tabID, "error", ev.result.Message)
		e.notify(nctx, Notice{Kind: NoticeError, Message: transportMessage + ev.result.Message})
	}

	e.host.LoadingChanged(false, false)
}

func (e *Engine) notify(ctx context.Context, n Notice) {
	if err := e.surface.Notify(ctx, n); err != nil {
		slog.Warn("notice failed", "tab_id", e.tabID, "kind", n.Kind, "error", err)
	}
}

// teardown is the single exit path for every state that drew on the page.
// Each step runs even when an earlier one fails.
func (e *Engine) teardown(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if e.State() == StateAwaitingResolution {
		if err := e.surface.SetBusy(tctx, false); err != nil {
			slog.Warn("clear busy indicator failed", "tab_id", e.tabID, "error", err)
		}
	}
	if err := e.surface.RemoveAllRegions(tctx); err != nil {
		slog.Warn("remove regions failed", "tab_id", e.tabID, "error", err)
	}
	if err := e.surface.UnblockInteraction(tctx); err != nil {
		slog.Warn("unblock interaction failed", "tab_id", e.tabID, "error", err)
	}
	e.session = nil
}
