package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	versionTimeout = 5 * time.Second
	listTimeout    = 10 * time.Second
)

var errNotConnected = errors.New("rawcdp: not connected")

// protocolError is an error object returned by the browser for one command.
type protocolError struct {
	Method  string
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("rawcdp: %s: %s", e.Method, e.Message)
}

// inbound is any frame read from the browser socket: a command reply when ID
// is set, an event otherwise.
type inbound struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *protocolError  `json:"error"`
}

type outbound struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	SessionID string `json:"sessionId,omitempty"`
	Params    any    `json:"params,omitempty"`
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// rawCDP speaks CDP over one browser-level WebSocket. Page sessions are
// flattened onto the same socket, so binding events for every attached tab
// arrive on readLoop.
type rawCDP struct {
	httpBase string       // e.g. "http://127.0.0.1:9220"
	client   *http.Client // nil uses http.DefaultClient

	connMu  sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
	seq     atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan inbound

	handlersMu sync.RWMutex
	handlers   map[string][]eventHandler
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase: strings.TrimRight(httpBase, "/"),
		pending:  make(map[int64]chan inbound),
		handlers: make(map[string][]eventHandler),
	}
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.pendingMu.Lock()
	r.pending = make(map[int64]chan inbound)
	r.pendingMu.Unlock()
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			slog.Debug("rawcdp close failed", "error", err)
		}
		r.conn = nil
	}
}

func (r *rawCDP) currentConn() net.Conn {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.conn
}

func (r *rawCDP) readLoop(conn net.Conn) {
	defer r.failPending()
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("rawcdp dropped malformed frame", "error", err)
			continue
		}
		if msg.ID > 0 {
			if ch, ok := r.takePending(msg.ID); ok {
				ch <- msg
			}
			continue
		}
		if msg.Method != "" {
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) takePending(id int64) (chan inbound, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return ch, ok
}

// failPending releases every waiter once the socket is gone.
func (r *rawCDP) failPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

// call sends method on sessionID (empty for the browser session) and decodes
// the reply's result into out when out is non-nil.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	conn := r.currentConn()
	if conn == nil {
		return errNotConnected
	}

	id := r.seq.Add(1)
	data, err := json.Marshal(outbound{ID: id, Method: method, SessionID: sessionID, Params: params})
	if err != nil {
		return fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan inbound, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	r.writeMu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.writeMu.Unlock()
	if err != nil {
		r.takePending(id)
		return fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	var reply inbound
	select {
	case msg, ok := <-ch:
		if !ok {
			return fmt.Errorf("rawcdp: %s: connection closed", method)
		}
		reply = msg
	case <-ctx.Done():
		r.takePending(id)
		return ctx.Err()
	}

	if reply.Error != nil {
		reply.Error.Method = method
		return reply.Error
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		return fmt.Errorf("rawcdp: decode %s: %w", method, err)
	}
	return nil
}

func (r *rawCDP) attachToTarget(ctx context.Context, targetID string) (string, error) {
	params := struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}{TargetID: targetID, Flatten: true}
	var res struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.call(ctx, "", "Target.attachToTarget", params, &res); err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// detachFromTarget leaves the target open.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return r.call(ctx, "", "Target.detachFromTarget", params, nil)
}

// evaluate runs js in the session's main world. Scripts return their envelope
// as a string, which is unwrapped here.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}
	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := r.call(ctx, sessionID, "Runtime.evaluate", params, &res); err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("rawcdp: eval exception: %s", res.ExceptionDetails.Text)
	}
	var s string
	if err := json.Unmarshal(res.Result.Value, &s); err != nil {
		return string(res.Result.Value), nil
	}
	return s, nil
}

func (r *rawCDP) enablePageDomain(ctx context.Context, sessionID string) error {
	return r.call(ctx, sessionID, "Page.enable", nil, nil)
}

// enableRuntime must precede addBinding; binding calls are only reported
// while the Runtime domain is on.
func (r *rawCDP) enableRuntime(ctx context.Context, sessionID string) error {
	return r.call(ctx, sessionID, "Runtime.enable", nil, nil)
}

// addBinding exposes window[name] in every execution context of the session.
func (r *rawCDP) addBinding(ctx context.Context, sessionID, name string) error {
	params := struct {
		Name string `json:"name"`
	}{Name: name}
	return r.call(ctx, sessionID, "Runtime.addBinding", params, nil)
}

// addScriptOnNewDocument runs source before page scripts on every later
// navigation of the session's target.
func (r *rawCDP) addScriptOnNewDocument(ctx context.Context, sessionID, source string) (string, error) {
	params := struct {
		Source string `json:"source"`
	}{Source: source}
	var res struct {
		Identifier string `json:"identifier"`
	}
	if err := r.call(ctx, sessionID, "Page.addScriptToEvaluateOnNewDocument", params, &res); err != nil {
		return "", err
	}
	return res.Identifier, nil
}

// registerEventHandler subscribes fn to a CDP event and returns the
// unsubscribe func. Handlers run on readLoop and must not wait on replies.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.handlersMu.Lock()
	r.handlers[method] = append(r.handlers[method], eventHandler{id: id, fn: fn})
	r.handlersMu.Unlock()
	return func() {
		r.handlersMu.Lock()
		defer r.handlersMu.Unlock()
		hs := r.handlers[method]
		for i, h := range hs {
			if h.id == id {
				r.handlers[method] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.handlersMu.RLock()
	hs := append([]eventHandler(nil), r.handlers[method]...)
	r.handlersMu.RUnlock()
	for _, h := range hs {
		h.fn(sessionID, params)
	}
}

// listTargets reads the target list from the HTTP endpoint, which works
// before any socket is open.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := r.getJSON(ctx, "/json/list", listTimeout, &entries); err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL})
	}
	return out, nil
}

func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := r.getJSON(ctx, "/json/version", versionTimeout, &info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", errors.New("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}

func (r *rawCDP) getJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+path, nil)
	if err != nil {
		return err
	}
	hc := r.client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
