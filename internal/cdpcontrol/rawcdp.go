package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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

// rawCDP speaks CDP directly over the browser-level WebSocket. Page sessions
// are attached in flat mode so every command and event for every tab shares
// this one connection.
type rawCDP struct {
	httpBase string

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler

	closed chan struct{}
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
		closed:        make(chan struct{}),
	}
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	r.pending = make(map[int64]chan json.RawMessage)
	r.closed = make(chan struct{})
	go r.readLoop(conn, r.closed)
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

// done is closed when the current read loop exits.
func (r *rawCDP) done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *rawCDP) readLoop(conn net.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.failPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			delete(r.pending, msg.ID)
			r.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
			continue
		}
		if msg.Method != "" {
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) failPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) dropPending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// call sends method on the given session (empty for the browser session),
// waits for the reply and decodes its result into out when out is non-nil.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("rawcdp: not connected")
	}

	id := r.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.dropPending(id)
		return fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	var raw json.RawMessage
	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("rawcdp: connection closed")
		}
		raw = resp
	case <-ctx.Done():
		r.dropPending(id)
		return ctx.Err()
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *cdpError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("rawcdp: decode %s: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rawcdp: %s: %s", method, envelope.Error.Message)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("rawcdp: decode %s result: %w", method, err)
	}
	return nil
}

// setDiscoverTargets turns on Target.targetCreated/InfoChanged/Destroyed.
func (r *rawCDP) setDiscoverTargets(ctx context.Context) error {
	return r.call(ctx, "", "Target.setDiscoverTargets", struct {
		Discover bool `json:"discover"`
	}{Discover: true}, nil)
}

func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	params := struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}{TargetID: string(targetID), Flatten: true}

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.call(ctx, "", "Target.attachToTarget", params, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("rawcdp: attach %s: empty session id", targetID)
	}
	return out.SessionID, nil
}

func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	return r.call(ctx, "", "Target.detachFromTarget", struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}, nil)
}

// enablePageDomain makes the session emit Page.frameNavigated and
// Page.loadEventFired.
func (r *rawCDP) enablePageDomain(ctx context.Context, sessionID string) error {
	return r.call(ctx, sessionID, "Page.enable", nil, nil)
}

// addBinding exposes window[name] in every context of the session, present
// and future. Calls surface as Runtime.bindingCalled.
func (r *rawCDP) addBinding(ctx context.Context, sessionID, name string) error {
	if err := r.call(ctx, sessionID, "Runtime.enable", nil, nil); err != nil {
		return err
	}
	return r.call(ctx, sessionID, "Runtime.addBinding", struct {
		Name string `json:"name"`
	}{Name: name}, nil)
}

// evaluate runs js on the session and returns the string it evaluates to.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}

	var out struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := r.call(ctx, sessionID, "Runtime.evaluate", params, &out); err != nil {
		return "", err
	}
	if out.ExceptionDetails != nil {
		return "", fmt.Errorf("rawcdp: eval exception: %s", out.ExceptionDetails.Text)
	}

	var s string
	if err := json.Unmarshal(out.Result.Value, &s); err != nil {
		return string(out.Result.Value), nil
	}
	return s, nil
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, r.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// registerEventHandler registers fn for a CDP event method and returns a
// function that removes it again.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.eventHandlers[method] = append(r.eventHandlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		handlers := r.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				r.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// dispatchEvent runs on the read loop; handlers must not issue CDP calls
// synchronously or the loop deadlocks waiting for its own reply.
func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	handlers := make([]eventHandler, len(r.eventHandlers[method]))
	copy(handlers, r.eventHandlers[method])
	r.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rawcdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
