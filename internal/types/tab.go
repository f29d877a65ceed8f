package types

import "time"

// TabID identifies an open browser tab. The browser may hand out the same
// identifier again once the original tab has closed.
type TabID string

// TabState is the coordinator's view of a single tab.
type TabState string

const (
	StateUnknown   TabState = "unknown"
	StateInjecting TabState = "injecting"
	StateInjected  TabState = "injected"
)

// TabInfo describes an open page target as reported by the browser.
type TabInfo struct {
	TabID TabID    `json:"tab_id"`
	URL   string   `json:"url"`
	Title string   `json:"title,omitempty"`
	State TabState `json:"state"`
}

// PanelProbeResult is the outcome of checking a tab's live DOM for the panel.
// It is computed fresh for every probe and never cached.
type PanelProbeResult struct {
	Exists  bool `json:"exists"`
	Visible bool `json:"visible"`
}

// Present reports whether the panel both exists and is visible.
func (r PanelProbeResult) Present() bool {
	return r.Exists && r.Visible
}

// Transition is published whenever the coordinator changes or confirms a
// tab's injection state.
type Transition struct {
	TabID  TabID     `json:"tab_id"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Transition kinds.
const (
	TransitionEvicted       = "evicted"
	TransitionSkipped       = "skipped"
	TransitionInjected      = "injected"
	TransitionInjectFailed  = "inject_failed"
	TransitionVerifyEvicted = "verify_evicted"
	TransitionRestricted    = "restricted"
)
