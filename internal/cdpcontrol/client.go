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
	"github.com/dgnsrekt/tabpanel/internal/types"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"session with given id not found",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"execution context was destroyed",
	"cannot find context with specified id",
}

// sessionGoneHints mark evaluation errors after which the flat session no
// longer exists. Any other failure leaves the session attached, and it keeps
// delivering Page events for the tab.
var sessionGoneHints = []string{
	"session with given id not found",
	"no session with given id",
	"session closed",
	"target closed",
	"not connected",
	"connection closed",
}

type tabSession struct {
	info      types.TabInfo
	seq       int64
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client drives page tabs over one browser-level CDP connection. It tracks
// page targets, keeps a flat session per tab for evaluation and lifecycle
// events, and reports those events to the sink set with OnEvent.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu          sync.Mutex
	cdp         *rawCDP
	unsubscribe []func()

	tabsMu   sync.RWMutex
	tabs     map[target.ID]*tabSession
	sessions map[string]target.ID
	tabSeq   int64

	sinkMu    sync.RWMutex
	sink      func(types.Event)
	binding   string
	onBinding func(types.TabID, string)

	tabLocksMu sync.Mutex
	tabLocks   map[types.TabID]*sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		sessions:    make(map[string]target.ID),
		tabLocks:    make(map[types.TabID]*sync.Mutex),
	}
}

// OnEvent sets the function receiving tab lifecycle events. It is called on
// the CDP read loop in delivery order and must not block.
func (c *Client) OnEvent(fn func(types.Event)) {
	c.sinkMu.Lock()
	c.sink = fn
	c.sinkMu.Unlock()
}

// OnBinding exposes window[name] in every tab and calls fn with the string
// a page passes to it. fn runs on its own goroutine. Set it before Connect.
func (c *Client) OnBinding(name string, fn func(id types.TabID, payload string)) {
	c.sinkMu.Lock()
	c.binding = name
	c.onBinding = fn
	c.sinkMu.Unlock()
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
	c.unsubscribe = c.subscribe(c.cdp)

	if err := c.cdp.setDiscoverTargets(ctx); err != nil {
		slog.Error("cdpcontrol target discovery failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.syncTabs(ctx, c.cdp); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	for _, info := range c.snapshotTabs() {
		go c.watch(info.TabID)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", c.tabCount())
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	for _, fn := range c.unsubscribe {
		fn()
	}
	c.unsubscribe = nil

	c.tabsMu.Lock()
	tabs := c.tabs
	c.tabs = make(map[target.ID]*tabSession)
	c.sessions = make(map[string]target.ID)
	c.tabsMu.Unlock()

	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for targetID, session := range tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach cleanup failed", "target_id", targetID, "error", err)
				}
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
}

// ListTabs returns the open page tabs in discovery order.
func (c *Client) ListTabs(ctx context.Context) ([]types.TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list tabs failed", "error", err)
		return nil, err
	}
	tabs := c.snapshotTabs()
	slog.Debug("cdpcontrol list tabs", "count", len(tabs))
	return tabs, nil
}

// TabURL returns the last URL seen for a tab.
func (c *Client) TabURL(id types.TabID) (string, bool) {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	s, ok := c.tabs[target.ID(id)]
	if !ok || s == nil {
		return "", false
	}
	return s.info.URL, true
}

// ActiveTab resolves the tab the user is looking at: a focused document wins
// over a merely visible one; the first tab is the fallback.
func (c *Client) ActiveTab(ctx context.Context) (types.TabInfo, error) {
	tabs, err := c.ListTabs(ctx)
	if err != nil {
		return types.TabInfo{}, err
	}
	if len(tabs) == 0 {
		return types.TabInfo{}, newError(CodeTabNotFound, "no page tabs found", nil)
	}

	var visible *types.TabInfo
	for i := range tabs {
		var out struct {
			Visible bool `json:"visible"`
			Focused bool `json:"focused"`
		}
		if evalErr := c.Evaluate(ctx, tabs[i].TabID, jsActiveState, &out); evalErr != nil {
			slog.Debug("cdpcontrol active state eval failed", "tab_id", tabs[i].TabID, "error", evalErr)
			continue
		}
		if out.Focused {
			return tabs[i], nil
		}
		if out.Visible && visible == nil {
			visible = &tabs[i]
		}
	}
	if visible != nil {
		return *visible, nil
	}

	// Fallback: the first tab if no document reported itself visible.
	return tabs[0], nil
}

var jsActiveState = WrapJSEval(
	`return JSON.stringify({ok:true,data:{visible:document.visibilityState === "visible",focused:document.hasFocus()}});`)

// Evaluate runs js in the tab and decodes the envelope's data into out.
// Calls for the same tab are serialized.
func (c *Client) Evaluate(ctx context.Context, id types.TabID, js string, out any) error {
	id = types.TabID(strings.TrimSpace(string(id)))
	if id == "" {
		return newError(CodeTabNotFound, "tab id is required", nil)
	}

	lock := c.tabLock(id)
	lock.Lock()
	defer lock.Unlock()

	// First attempt.
	slog.Debug("cdpcontrol eval on tab", "tab_id", id)
	session, err := c.resolveSession(ctx, id)
	if err == nil {
		err = c.evalOnSession(ctx, session, target.ID(id), js, out)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("cdpcontrol eval retry after transient failure", "tab_id", id, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "tab_id", id, "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "tab_id", id, "error", syncErr)
	}

	session, err = c.resolveSession(ctx, id)
	if err != nil {
		return err
	}
	return c.evalOnSession(ctx, session, target.ID(id), js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, targetID target.ID, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, targetID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "target_id", targetID, "error", err)
		if sessionGone(err) {
			// The retry attaches a fresh session.
			c.dropSession(session, sessionID)
		}

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

// ensureSession returns a CDP session ID for the target, attaching and
// enabling the Page domain if needed so lifecycle events flow.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, targetID target.ID) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	c.tabsMu.Lock()
	c.sessions[sid] = targetID
	c.tabsMu.Unlock()

	if err := cdp.enablePageDomain(ctx, sid); err != nil {
		slog.Warn("cdpcontrol page domain enable failed", "target_id", targetID, "error", err)
	}
	c.sinkMu.RLock()
	binding := c.binding
	c.sinkMu.RUnlock()
	if binding != "" {
		if err := cdp.addBinding(ctx, sid, binding); err != nil {
			slog.Warn("cdpcontrol add binding failed", "target_id", targetID, "binding", binding, "error", err)
		}
	}
	session.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

func (c *Client) dropSession(session *tabSession, sessionID string) {
	session.mu.Lock()
	if session.sessionID == sessionID {
		session.sessionID = ""
	}
	session.mu.Unlock()
	c.tabsMu.Lock()
	delete(c.sessions, sessionID)
	c.tabsMu.Unlock()
}

func sessionGone(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range sessionGoneHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func (c *Client) resolveSession(ctx context.Context, id types.TabID) (*tabSession, error) {
	if session := c.lookupSession(id); session != nil {
		return session, nil
	}
	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}
	if session := c.lookupSession(id); session != nil {
		return session, nil
	}
	return nil, newError(CodeTabNotFound, "tab not found: "+string(id), nil)
}

func (c *Client) lookupSession(id types.TabID) *tabSession {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return c.tabs[target.ID(id)]
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if err := c.syncTabs(ctx, cdp); err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}
	return nil
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// syncTabs reconciles the tracked tabs with /json/list. It talks HTTP, not
// the WebSocket, so it is safe to call while a CDP call is outstanding.
func (c *Client) syncTabs(ctx context.Context, cdp *rawCDP) error {
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	expected := make(map[target.ID]types.TabInfo)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		expected[t.TargetID] = types.TabInfo{
			TabID: types.TabID(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
		}
	}

	c.tabsMu.Lock()
	defer c.tabsMu.Unlock()

	for targetID, session := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		delete(c.tabs, targetID)
		if session != nil {
			delete(c.sessions, session.sessionID)
		}
	}

	// /json/list is most-recent first; keep discovery order stable for
	// tabs we already know about.
	for i := len(targets) - 1; i >= 0; i-- {
		info, ok := expected[targets[i].TargetID]
		if !ok {
			continue
		}
		c.upsertTabLocked(info)
	}

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

// upsertTabLocked records or refreshes a tab and reports whether it is new.
func (c *Client) upsertTabLocked(info types.TabInfo) bool {
	if session := c.tabs[target.ID(info.TabID)]; session != nil {
		session.info.URL = info.URL
		session.info.Title = info.Title
		return false
	}
	c.tabSeq++
	c.tabs[target.ID(info.TabID)] = &tabSession{info: info, seq: c.tabSeq}
	return true
}

func (c *Client) snapshotTabs() []types.TabInfo {
	c.tabsMu.RLock()
	sessions := make([]*tabSession, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	c.tabsMu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	out := make([]types.TabInfo, 0, len(sessions))
	c.tabsMu.RLock()
	for _, s := range sessions {
		out = append(out, s.info)
	}
	c.tabsMu.RUnlock()
	return out
}

func (c *Client) tabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
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

func (c *Client) tabLock(id types.TabID) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[id]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[id] = m
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
	case CodeTabNotFound:
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
