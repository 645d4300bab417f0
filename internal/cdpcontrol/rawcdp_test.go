package cdpcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/target"
)

func TestCleanupDetachesAndResetsState(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	unbound := false
	session := &tabSession{sessionID: "session-1"}
	client := &Client{
		cdp:          &rawCDP{},
		tabs:         map[target.ID]*tabSession{"target-1": session},
		sessionToTab: map[string]target.ID{"session-1": "target-1"},
		unbind:       func() { unbound = true },
	}
	client.cleanupLocked()

	if !strings.Contains(buf.String(), "detach cleanup failed") {
		t.Fatalf("expected detach cleanup debug log, got %q", buf.String())
	}
	if !unbound {
		t.Fatal("binding handler still registered after cleanup")
	}
	if session.sessionID != "" || len(client.tabs) != 0 || len(client.sessionToTab) != 0 || client.cdp != nil {
		t.Fatalf("state not reset: session=%q tabs=%d sessions=%d", session.sessionID, len(client.tabs), len(client.sessionToTab))
	}
}

func TestRawCDPCallRequiresConnection(t *testing.T) {
	r := newRawCDP("http://127.0.0.1:1/")
	if r.httpBase != "http://127.0.0.1:1" {
		t.Fatalf("httpBase = %q", r.httpBase)
	}
	if _, err := r.evaluate(context.Background(), "session-1", "1"); !errors.Is(err, errNotConnected) {
		t.Fatalf("evaluate() error = %v, want errNotConnected", err)
	}
}

func TestRawCDPEventHandlers(t *testing.T) {
	r := newRawCDP("http://example.com")
	var calls []string
	unregister := r.registerEventHandler("Runtime.bindingCalled", func(sessionID string, params json.RawMessage) {
		calls = append(calls, "a:"+sessionID+":"+string(params))
	})
	r.registerEventHandler("Runtime.bindingCalled", func(sessionID string, _ json.RawMessage) {
		calls = append(calls, "b:"+sessionID)
	})

	r.dispatchEvent("Page.loadEventFired", "s1", nil)
	r.dispatchEvent("Runtime.bindingCalled", "s1", json.RawMessage(`{}`))
	unregister()
	r.dispatchEvent("Runtime.bindingCalled", "s2", json.RawMessage(`{}`))

	want := []string{"a:s1:{}", "b:s1", "b:s2"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestRawCDPDiscoveryEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/version":
			_, _ = w.Write([]byte(`{"webSocketDebuggerUrl":"ws://127.0.0.1:9220/devtools/browser/abc"}`))
		case "/json/list":
			_, _ = w.Write([]byte(`[{"id":"T1","type":"page","title":"App","url":"http://localhost:3000/"},{"id":"W1","type":"service_worker","url":"http://localhost:3000/sw.js"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := newRawCDP(srv.URL)
	r.client = srv.Client()

	wsURL, err := r.browserWSURL(context.Background())
	if err != nil || wsURL != "ws://127.0.0.1:9220/devtools/browser/abc" {
		t.Fatalf("browserWSURL() = %q, %v", wsURL, err)
	}

	targets, err := r.listTargets(context.Background())
	if err != nil {
		t.Fatalf("listTargets() error = %v", err)
	}
	if len(targets) != 2 || targets[0].TargetID != "T1" || targets[0].Type != "page" || targets[1].Type != "service_worker" {
		t.Fatalf("listTargets() = %+v", targets)
	}

	r.httpBase = srv.URL + "/missing"
	if _, err := r.listTargets(context.Background()); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("listTargets() error = %v, want HTTP 404", err)
	}
}
