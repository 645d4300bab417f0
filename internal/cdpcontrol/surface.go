package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/idlocator/internal/locator"
)

type bindingPayload struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

type pageMessage struct {
	Type   string `json:"type"`
	Region int    `json:"region"`
}

// onBindingCalled runs on the CDP read loop. It must not block on anything
// that evaluates over the same socket, so events are queued.
func (c *Client) onBindingCalled(sessionID string, params json.RawMessage) {
	var p bindingPayload
	if err := json.Unmarshal(params, &p); err != nil || p.Name != bindingName {
		return
	}
	var msg pageMessage
	if err := json.Unmarshal([]byte(p.Payload), &msg); err != nil {
		slog.Debug("cdpcontrol bad page payload", "session_id", sessionID, "error", err)
		return
	}
	switch msg.Type {
	case EventClick, EventHover, EventLeave, EventCancel, EventFocus:
	default:
		return
	}

	c.mu.Lock()
	tabID, ok := c.sessionToTab[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}

	ev := PageEvent{TabID: string(tabID), Type: msg.Type, Region: msg.Region}
	select {
	case c.events <- ev:
	default:
		slog.Warn("cdpcontrol page event dropped", "tab_id", ev.TabID, "type", ev.Type)
	}
}

func (c *Client) deliverEvents() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handlerMu.RLock()
			fn := c.handler
			c.handlerMu.RUnlock()
			if fn != nil {
				fn(ev)
			}
		}
	}
}

// Surface attaches to the tab and returns a locator.Surface drawing on it.
func (c *Client) Surface(ctx context.Context, tabID string) (locator.Surface, error) {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return nil, newError(CodeValidation, "tab id is required", nil)
	}
	session, info, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	if _, err := c.ensureSession(ctx, cdp, session, info.TabID); err != nil {
		return nil, err
	}
	return &tabSurface{c: c, tabID: target.ID(tabID)}, nil
}

type tabSurface struct {
	c     *Client
	tabID target.ID
}

type enumeration struct {
	Candidates []locator.Candidate `json:"candidates"`
	Viewport   locator.Viewport    `json:"viewport"`
}

func (s *tabSurface) eval(ctx context.Context, js string, out any) error {
	return s.c.evalOnTab(ctx, string(s.tabID), js, out)
}

func (s *tabSurface) EnumerateCandidates(ctx context.Context) ([]locator.Candidate, locator.Viewport, error) {
	var out enumeration
	if err := s.eval(ctx, jsEnumerateCandidates(), &out); err != nil {
		return nil, locator.Viewport{}, err
	}
	return out.Candidates, out.Viewport, nil
}

func (s *tabSurface) RenderRegions(ctx context.Context, regions []locator.Region) error {
	return s.eval(ctx, jsRenderRegions(regions), nil)
}

func (s *tabSurface) RemoveAllRegions(ctx context.Context) error {
	return s.eval(ctx, jsRemoveAllRegions(), nil)
}

func (s *tabSurface) BlockInteraction(ctx context.Context) error {
	return s.eval(ctx, jsBlockInteraction(), nil)
}

func (s *tabSurface) UnblockInteraction(ctx context.Context) error {
	return s.eval(ctx, jsUnblockInteraction(), nil)
}

func (s *tabSurface) SetBusy(ctx context.Context, busy bool) error {
	return s.eval(ctx, jsSetBusy(busy), nil)
}

func (s *tabSurface) ShowLabel(ctx context.Context, regionID int, label locator.Label) error {
	return s.eval(ctx, jsShowLabel(regionID, label), nil)
}

func (s *tabSurface) HideLabel(ctx context.Context, regionID int) error {
	return s.eval(ctx, jsHideLabel(regionID), nil)
}

func (s *tabSurface) Notify(ctx context.Context, n locator.Notice) error {
	return s.c.evalOnTabOnce(ctx, string(s.tabID), jsNotify(n), nil)
}

func (s *tabSurface) Open(ctx context.Context, uri string) error {
	return s.c.evalOnTabOnce(ctx, string(s.tabID), jsOpenURI(uri), nil)
}
