package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

const pageEventBuffer = 256

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"no session with given id",
}

type tabSession struct {
	info      TabInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client drives page tabs over a raw CDP connection: it evaluates overlay
// scripts and turns page binding calls into PageEvents.
type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu           sync.Mutex
	cdp          *rawCDP
	tabs         map[target.ID]*tabSession
	sessionToTab map[string]target.ID
	unbind       func()

	tabLocksMu sync.Mutex
	tabLocks   map[string]*sync.Mutex

	handlerMu sync.RWMutex
	handler   func(PageEvent)
	events    chan PageEvent
	done      chan struct{}
	closeOnce sync.Once
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	c := &Client{
		cdpURL:       cdpURL,
		tabFilter:    strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout:  evalTimeout,
		tabs:         make(map[target.ID]*tabSession),
		sessionToTab: make(map[string]target.ID),
		tabLocks:     make(map[string]*sync.Mutex),
		events:       make(chan PageEvent, pageEventBuffer),
		done:         make(chan struct{}),
	}
	go c.deliverEvents()
	return c
}

// OnPageEvent sets the receiver for page interactions. Events are delivered
// in order on one goroutine.
func (c *Client) OnPageEvent(fn func(PageEvent)) {
	c.handlerMu.Lock()
	c.handler = fn
	c.handlerMu.Unlock()
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.unbind = c.cdp.registerEventHandler("Runtime.bindingCalled", c.onBindingCalled)

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.cleanupLocked()
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for targetID, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("detach cleanup failed", "target_id", targetID, "error", err)
				}
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		if c.unbind != nil {
			c.unbind()
			c.unbind = nil
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.sessionToTab = make(map[string]target.ID)
}

// ListTabs returns the page tabs that pass the URL filter.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list tabs failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	tabs := make([]TabInfo, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s == nil {
			continue
		}
		info := s.info
		s.mu.Lock()
		info.Attached = s.sessionID != ""
		s.mu.Unlock()
		tabs = append(tabs, info)
	}
	c.mu.Unlock()

	sort.Slice(tabs, func(i, j int) bool {
		return tabs[i].TabID < tabs[j].TabID
	})
	slog.Debug("cdpcontrol list tabs", "count", len(tabs))
	return tabs, nil
}

// Tab returns one tab by ID.
func (c *Client) Tab(ctx context.Context, tabID string) (TabInfo, error) {
	session, info, err := c.resolveTabSession(ctx, strings.TrimSpace(tabID))
	if err != nil {
		return TabInfo{}, err
	}
	session.mu.Lock()
	info.Attached = session.sessionID != ""
	session.mu.Unlock()
	return info, nil
}

// Release drops the session bookkeeping for a closed tab.
func (c *Client) Release(tabID string) {
	c.mu.Lock()
	session := c.tabs[target.ID(tabID)]
	delete(c.tabs, target.ID(tabID))
	if session != nil {
		session.mu.Lock()
		delete(c.sessionToTab, session.sessionID)
		session.sessionID = ""
		session.mu.Unlock()
	}
	c.mu.Unlock()

	c.tabLocksMu.Lock()
	delete(c.tabLocks, tabID)
	c.tabLocksMu.Unlock()
	slog.Debug("cdpcontrol tab released", "tab_id", tabID)
}

// evalOnTab runs js on the tab, retrying once after a transient failure.
func (c *Client) evalOnTab(ctx context.Context, tabID, js string, out any) error {
	return c.runOnTab(ctx, tabID, js, out, true)
}

// evalOnTabOnce runs js at most once. Scripts with page-visible side effects
// use it, since a failed reply does not mean the script did not run.
func (c *Client) evalOnTabOnce(ctx context.Context, tabID, js string, out any) error {
	return c.runOnTab(ctx, tabID, js, out, false)
}

func (c *Client) runOnTab(ctx context.Context, tabID, js string, out any, retry bool) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return newError(CodeValidation, "tab id is required", nil)
	}

	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	// First attempt.
	session, info, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		slog.Warn("cdpcontrol tab resolve failed", "tab_id", tabID, "error", err)
	} else {
		err = c.evalOnSession(ctx, session, info.TabID, js, out)
	}
	if err == nil {
		return nil
	}
	if !retry || !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("cdpcontrol eval retry after transient failure", "tab_id", tabID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else {
		if syncErr := c.refreshTabs(ctx); syncErr != nil {
			slog.Warn("cdpcontrol tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
		}
	}

	session, info, err = c.resolveTabSession(ctx, tabID)
	if err != nil {
		slog.Warn("cdpcontrol tab resolve failed (retry)", "tab_id", tabID, "error", err)
		return err
	}
	return c.evalOnSession(ctx, session, info.TabID, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, tabID, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, tabID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "tab_id", tabID, "error", err)
		// Reset session so a fresh attach happens on retry.
		c.forgetSession(session)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the tab, attaching and installing
// the page binding if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, tabID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, tabID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	if err := c.prepareSession(ctx, cdp, sid); err != nil {
		if detachErr := cdp.detachFromTarget(ctx, sid); detachErr != nil {
			slog.Debug("detach after failed prepare", "tab_id", tabID, "error", detachErr)
		}
		return "", newError(CodeCDPUnavailable, "prepare session failed", err)
	}

	session.sessionID = sid
	c.mu.Lock()
	c.sessionToTab[sid] = target.ID(tabID)
	c.mu.Unlock()
	slog.Debug("cdpcontrol session attached", "tab_id", tabID, "session_id", sid)
	return sid, nil
}

func (c *Client) prepareSession(ctx context.Context, cdp *rawCDP, sessionID string) error {
	if err := cdp.enableRuntime(ctx, sessionID); err != nil {
		return err
	}
	if err := cdp.addBinding(ctx, sessionID, bindingName); err != nil {
		return err
	}
	if err := cdp.enablePageDomain(ctx, sessionID); err != nil {
		return err
	}
	if _, err := cdp.addScriptOnNewDocument(ctx, sessionID, jsPageHooks); err != nil {
		return err
	}
	if _, err := cdp.evaluate(ctx, sessionID, jsPageHooks); err != nil {
		return err
	}
	return nil
}

func (c *Client) forgetSession(session *tabSession) {
	session.mu.Lock()
	sid := session.sessionID
	session.sessionID = ""
	session.mu.Unlock()
	if sid == "" {
		return
	}
	c.mu.Lock()
	delete(c.sessionToTab, sid)
	c.mu.Unlock()
}

func (c *Client) resolveTabSession(ctx context.Context, tabID string) (*tabSession, TabInfo, error) {
	session, info, found := c.lookupTabSession(tabID)
	if found {
		return session, info, nil
	}

	if err := c.refreshTabs(ctx); err != nil {
		return nil, TabInfo{}, err
	}

	session, info, found = c.lookupTabSession(tabID)
	if found {
		return session, info, nil
	}

	return nil, TabInfo{}, newError(CodeTabNotFound, "tab not found: "+tabID, nil)
}

func (c *Client) lookupTabSession(tabID string) (*tabSession, TabInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(tabID)]
	if session == nil {
		return nil, TabInfo{}, false
	}
	return session, session.info, true
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncTabsLocked(ctx)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	expected := make(map[target.ID]TabInfo)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !c.matchesFilter(t.URL) {
			continue
		}
		expected[t.TargetID] = TabInfo{
			TabID: string(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
		}
	}

	for targetID, session := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		if session != nil && session.sessionID != "" {
			delete(c.sessionToTab, session.sessionID)
		}
		delete(c.tabs, targetID)
	}

	for targetID, info := range expected {
		session := c.tabs[targetID]
		if session != nil {
			session.info = info
			continue
		}
		c.tabs[targetID] = &tabSession{info: info}
	}

	// Prune tab locks for tabs no longer present.
	c.tabLocksMu.Lock()
	for id := range c.tabLocks {
		if _, ok := c.tabs[target.ID(id)]; !ok {
			delete(c.tabLocks, id)
		}
	}
	c.tabLocksMu.Unlock()

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "tabs", len(c.tabs))
	return nil
}

func (c *Client) matchesFilter(url string) bool {
	return c.tabFilter == "" || strings.Contains(strings.ToLower(url), c.tabFilter)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(tabID string) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeTabNotFound, CodeValidation:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}
