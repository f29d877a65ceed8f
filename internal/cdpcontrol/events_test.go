package cdpcontrol

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/tabpanel/internal/types"
)

type eventSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *eventSink) add(ev types.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) all() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Event(nil), s.events...)
}

func newEventClient(t *testing.T) (*Client, *eventSink) {
	t.Helper()
	// No connection: watch goroutines started by discovery return at once.
	c := NewClient("http://example.com", 0)
	sink := &eventSink{}
	c.OnEvent(sink.add)
	return c, sink
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() = %v", err)
	}
	return b
}

func targetInfo(id, typ, url string) map[string]any {
	return map[string]any{"targetInfo": map[string]any{"targetId": id, "type": typ, "url": url, "title": id}}
}

func TestTargetCreatedTracksPagesOnly(t *testing.T) {
	c, _ := newEventClient(t)
	c.onTargetInfo("", raw(t, targetInfo("7", "page", "https://a.example/")))
	c.onTargetInfo("", raw(t, targetInfo("sw", "service_worker", "https://a.example/sw.js")))

	if _, ok := c.TabURL("7"); !ok {
		t.Fatal("page target was not tracked")
	}
	if _, ok := c.TabURL("sw"); ok {
		t.Fatal("service worker was tracked as a tab")
	}
}

func TestLoadEventEmitsCompletedWithMainFrameURL(t *testing.T) {
	c, sink := newEventClient(t)
	c.onTargetInfo("", raw(t, targetInfo("7", "page", "about:blank")))
	c.sessions["s7"] = target.ID("7")

	c.onFrameNavigated("s7", raw(t, map[string]any{"frame": map[string]any{"id": "child", "parentId": "main", "url": "https://ads.example/"}}))
	c.onFrameNavigated("s7", raw(t, map[string]any{"frame": map[string]any{"id": "main", "url": "https://b.example/"}}))
	c.onLoadEventFired("s7", raw(t, map[string]any{"timestamp": 1.0}))

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("events = %+v; want one Completed", got)
	}
	if got[0].Kind != types.EventCompleted || got[0].TabID != "7" || got[0].URL != "https://b.example/" {
		t.Fatalf("event = %+v; want Completed(7, https://b.example/)", got[0])
	}
}

func TestLoadEventFromUnknownSessionIgnored(t *testing.T) {
	c, sink := newEventClient(t)
	c.onLoadEventFired("nope", nil)
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("events = %+v; want none", got)
	}
}

func TestTargetDestroyedEmitsRemovedOnce(t *testing.T) {
	c, sink := newEventClient(t)
	c.onTargetInfo("", raw(t, targetInfo("7", "page", "https://a.example/")))
	c.onTargetDestroyed("", raw(t, map[string]any{"targetId": "7"}))
	c.onTargetDestroyed("", raw(t, map[string]any{"targetId": "7"}))

	got := sink.all()
	if len(got) != 1 || got[0].Kind != types.EventRemoved || got[0].TabID != "7" {
		t.Fatalf("events = %+v; want one Removed(7)", got)
	}
	if _, ok := c.TabURL("7"); ok {
		t.Fatal("destroyed tab still tracked")
	}
}

func TestDetachedClearsSession(t *testing.T) {
	c, _ := newEventClient(t)
	c.onTargetInfo("", raw(t, targetInfo("7", "page", "https://a.example/")))
	session := c.lookupSession("7")
	session.sessionID = "s7"
	c.sessions["s7"] = target.ID("7")

	c.onDetached("", raw(t, map[string]any{"sessionId": "s7", "targetId": "7"}))

	if session.sessionID != "" {
		t.Fatalf("sessionID = %q; want cleared", session.sessionID)
	}
	if _, ok := c.sessions["s7"]; ok {
		t.Fatal("detached session still mapped")
	}
}

func TestBindingCalledReachesHandler(t *testing.T) {
	c, _ := newEventClient(t)
	got := make(chan string, 1)
	c.OnBinding("__send", func(id types.TabID, payload string) {
		got <- string(id) + "|" + payload
	})
	c.onTargetInfo("", raw(t, targetInfo("7", "page", "https://a.example/")))
	c.sessions["s7"] = target.ID("7")

	c.onBindingCalled("s7", raw(t, map[string]any{"name": "other", "payload": "x"}))
	c.onBindingCalled("s7", raw(t, map[string]any{"name": "__send", "payload": `{"action":"ask"}`}))

	if v := <-got; v != `7|{"action":"ask"}` {
		t.Fatalf("binding handler got %q; want %q", v, `7|{"action":"ask"}`)
	}
	select {
	case v := <-got:
		t.Fatalf("unexpected second binding call %q", v)
	default:
	}
}
