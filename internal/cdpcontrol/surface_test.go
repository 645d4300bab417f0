package cdpcontrol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/idlocator/internal/locator"
)

func bindingParams(t *testing.T, name string, payload any) json.RawMessage {
	t.Helper()
	inner, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal() = %v", err)
	}
	raw, err := json.Marshal(bindingPayload{Name: name, Payload: string(inner)})
	if err != nil {
		t.Fatalf("json.Marshal() = %v", err)
	}
	return raw
}

func TestBindingCalledDeliversPageEvents(t *testing.T) {
	c := NewClient("http://example.com", "", time.Second)
	t.Cleanup(func() { _ = c.Close() })
	c.sessionToTab["session-1"] = target.ID("tab-1")

	got := make(chan PageEvent, 4)
	c.OnPageEvent(func(ev PageEvent) { got <- ev })

	c.onBindingCalled("session-1", bindingParams(t, "otherBinding", pageMessage{Type: EventClick, Region: 1}))
	c.onBindingCalled("session-unknown", bindingParams(t, bindingName, pageMessage{Type: EventClick, Region: 1}))
	c.onBindingCalled("session-1", bindingParams(t, bindingName, pageMessage{Type: "scroll"}))
	c.onBindingCalled("session-1", bindingParams(t, bindingName, pageMessage{Type: EventHover, Region: 3}))
	c.onBindingCalled("session-1", bindingParams(t, bindingName, pageMessage{Type: EventClick, Region: 3}))

	want := []PageEvent{
		{TabID: "tab-1", Type: EventHover, Region: 3},
		{TabID: "tab-1", Type: EventClick, Region: 3},
	}
	for i, w := range want {
		select {
		case ev := <-got:
			if ev != w {
				t.Fatalf("event %d = %+v, want %+v", i, ev, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReleaseForgetsTab(t *testing.T) {
	c := NewClient("http://example.com", "", time.Second)
	t.Cleanup(func() { _ = c.Close() })
	c.tabs["tab-1"] = &tabSession{info: TabInfo{TabID: "tab-1"}, sessionID: "session-1"}
	c.sessionToTab["session-1"] = "tab-1"
	c.tabLock("tab-1")

	c.Release("tab-1")

	if _, ok := c.tabs["tab-1"]; ok {
		t.Fatal("tab kept after Release")
	}
	if _, ok := c.sessionToTab["session-1"]; ok {
		t.Fatal("session mapping kept after Release")
	}
	if _, ok := c.tabLocks["tab-1"]; ok {
		t.Fatal("tab lock kept after Release")
	}
}

func TestOverlayScriptsEmbedValues(t *testing.T) {
	regions := []locator.Region{{
		ID:         7,
		Box:        locator.Box{X: 1, Y: 2, W: 30, H: 40},
		Identifier: `say-"hi"`,
		Fill:       "hsla(10, 70%, 50%, 0.3)",
		Highlight:  "hsla(10, 70%, 50%, 0.6)",
	}}

	tests := []struct {
		name string
		js   string
		want []string
	}{
		{"enumerate", jsEnumerateCandidates(), []string{`querySelectorAll("[id]")`, "scroll_x"}},
		{"render", jsRenderRegions(regions), []string{`"id":7`, `say-\"hi\"`, `"w":30`, `type: "click"`}},
		{"render empty", jsRenderRegions(nil), []string{"var regions = [];"}},
		{"busy", jsSetBusy(true), []string{"var busy = true;"}},
		{"label", jsShowLabel(7, locator.Label{Text: "say-*", Placement: locator.PlacementInside}), []string{"var id = 7;", `"say-*"`, `"inside"`}},
		{"notice", jsNotify(locator.Notice{Kind: locator.NoticeError, Message: "HTTP error! status: 500"}), []string{`"HTTP error! status: 500"`}},
		{"open", jsOpenURI("vscode://file/src/a.ts"), []string{`window.open("vscode://file/src/a.ts", "_blank")`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.js, "window.__idlocator") {
				t.Fatal("script missing overlay preamble")
			}
			for _, w := range tt.want {
				if !strings.Contains(tt.js, w) {
					t.Fatalf("script missing %q:\n%s", w, tt.js)
				}
			}
		})
	}
}

func TestPageHooksUseBinding(t *testing.T) {
	for _, w := range []string{bindingName, `type: "cancel"`, `type: "focus"`, "__idlocatorHooks"} {
		if !strings.Contains(jsPageHooks, w) {
			t.Fatalf("page hooks missing %q", w)
		}
	}
}
