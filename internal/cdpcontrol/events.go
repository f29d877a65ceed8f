package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/tabpanel/internal/types"
)

const (
	eventTargetCreated      = "Target.targetCreated"
	eventTargetInfoChanged  = "Target.targetInfoChanged"
	eventTargetDestroyed    = "Target.targetDestroyed"
	eventDetachedFromTarget = "Target.detachedFromTarget"
	eventFrameNavigated     = "Page.frameNavigated"
	eventLoadEventFired     = "Page.loadEventFired"
	eventBindingCalled      = "Runtime.bindingCalled"
)

type targetInfoParams struct {
	TargetInfo struct {
		TargetID string `json:"targetId"`
		Type     string `json:"type"`
		Title    string `json:"title"`
		URL      string `json:"url"`
	} `json:"targetInfo"`
}

// subscribe registers the lifecycle handlers on cdp and returns their
// unregister functions. Handlers run on the read loop: they only touch the
// tab maps and hand CDP work to goroutines.
func (c *Client) subscribe(cdp *rawCDP) []func() {
	return []func(){
		cdp.registerEventHandler(eventTargetCreated, c.onTargetInfo),
		cdp.registerEventHandler(eventTargetInfoChanged, c.onTargetInfo),
		cdp.registerEventHandler(eventTargetDestroyed, c.onTargetDestroyed),
		cdp.registerEventHandler(eventDetachedFromTarget, c.onDetached),
		cdp.registerEventHandler(eventFrameNavigated, c.onFrameNavigated),
		cdp.registerEventHandler(eventLoadEventFired, c.onLoadEventFired),
		cdp.registerEventHandler(eventBindingCalled, c.onBindingCalled),
	}
}

func (c *Client) onTargetInfo(_ string, params json.RawMessage) {
	var p targetInfoParams
	if err := json.Unmarshal(params, &p); err != nil {
		slog.Debug("cdpcontrol bad target info event", "error", err)
		return
	}
	if p.TargetInfo.Type != "page" || p.TargetInfo.TargetID == "" {
		return
	}

	c.tabsMu.Lock()
	created := c.upsertTabLocked(types.TabInfo{
		TabID: types.TabID(p.TargetInfo.TargetID),
		URL:   p.TargetInfo.URL,
		Title: p.TargetInfo.Title,
	})
	c.tabsMu.Unlock()

	if created {
		slog.Debug("cdpcontrol tab discovered", "tab_id", p.TargetInfo.TargetID, "url", p.TargetInfo.URL)
		go c.watch(types.TabID(p.TargetInfo.TargetID))
	}
}

func (c *Client) onTargetDestroyed(_ string, params json.RawMessage) {
	var p struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.TargetID == "" {
		return
	}

	c.tabsMu.Lock()
	session, ok := c.tabs[target.ID(p.TargetID)]
	if ok {
		delete(c.tabs, target.ID(p.TargetID))
		if session != nil {
			delete(c.sessions, session.sessionID)
		}
	}
	c.tabsMu.Unlock()
	if !ok {
		return
	}

	slog.Debug("cdpcontrol tab removed", "tab_id", p.TargetID)
	c.emit(types.Removed(types.TabID(p.TargetID)))
}

func (c *Client) onDetached(_ string, params json.RawMessage) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.SessionID == "" {
		return
	}

	c.tabsMu.Lock()
	targetID, ok := c.sessions[p.SessionID]
	delete(c.sessions, p.SessionID)
	session := c.tabs[targetID]
	c.tabsMu.Unlock()
	if !ok || session == nil {
		return
	}

	session.mu.Lock()
	if session.sessionID == p.SessionID {
		session.sessionID = ""
	}
	session.mu.Unlock()
	slog.Debug("cdpcontrol session detached", "tab_id", targetID, "session_id", p.SessionID)
}

func (c *Client) onFrameNavigated(sessionID string, params json.RawMessage) {
	var p struct {
		Frame struct {
			ParentID string `json:"parentId"`
			URL      string `json:"url"`
		} `json:"frame"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	// Only the main frame decides the tab's document.
	if p.Frame.ParentID != "" {
		return
	}

	c.tabsMu.Lock()
	defer c.tabsMu.Unlock()
	if session := c.tabs[c.sessions[sessionID]]; session != nil {
		session.info.URL = p.Frame.URL
	}
}

func (c *Client) onLoadEventFired(sessionID string, _ json.RawMessage) {
	c.tabsMu.RLock()
	targetID, ok := c.sessions[sessionID]
	var url string
	if session := c.tabs[targetID]; ok && session != nil {
		url = session.info.URL
	} else {
		ok = false
	}
	c.tabsMu.RUnlock()
	if !ok {
		return
	}

	slog.Debug("cdpcontrol tab load completed", "tab_id", targetID, "url", url)
	c.emit(types.Completed(types.TabID(targetID), url))
}

func (c *Client) onBindingCalled(sessionID string, params json.RawMessage) {
	var p struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	c.sinkMu.RLock()
	name, fn := c.binding, c.onBinding
	c.sinkMu.RUnlock()
	if fn == nil || p.Name != name {
		return
	}

	c.tabsMu.RLock()
	targetID, ok := c.sessions[sessionID]
	c.tabsMu.RUnlock()
	if !ok {
		return
	}
	go fn(types.TabID(targetID), p.Payload)
}

func (c *Client) emit(ev types.Event) {
	c.sinkMu.RLock()
	sink := c.sink
	c.sinkMu.RUnlock()
	if sink != nil {
		sink(ev)
	}
}

// watch attaches to a tab so its Page events start flowing.
func (c *Client) watch(id types.TabID) {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return
	}
	session := c.lookupSession(id)
	if session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.evalTimeout)
	defer cancel()
	if _, err := c.ensureSession(ctx, cdp, session, target.ID(id)); err != nil {
		slog.Debug("cdpcontrol watch attach failed", "tab_id", id, "error", err)
	}
}

// KeepAlive reconnects after the browser connection drops, backing off
// between attempts, until ctx is cancelled. onReconnect runs after every
// successful reconnect so callers can resync state.
func (c *Client) KeepAlive(ctx context.Context, onReconnect func()) {
	backoff := time.Second
	for {
		c.mu.Lock()
		cdp := c.cdp
		c.mu.Unlock()

		if cdp != nil {
			select {
			case <-ctx.Done():
				return
			case <-cdp.done():
			}
			slog.Warn("cdpcontrol connection lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.mu.Lock()
		current := c.cdp
		c.mu.Unlock()
		if current != nil && current != cdp {
			// An evaluation retry already reconnected.
			continue
		}

		if err := c.reconnect(ctx); err != nil {
			slog.Warn("cdpcontrol reconnect failed", "error", err, "backoff", backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if onReconnect != nil {
			onReconnect()
		}
	}
}
