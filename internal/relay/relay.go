// Package relay forwards questions to the backend and shows the result as a
// modal in the active tab. It also owns the status broker that streams
// injection transitions and relay outcomes to SSE clients.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/tabpanel/internal/backend"
	"github.com/dgnsrekt/tabpanel/internal/inject"
	"github.com/dgnsrekt/tabpanel/internal/types"
)

const (
	defaultSettleDelay = 150 * time.Millisecond

	OutcomeResponse = "response"
	OutcomeError    = "error"
)

// ActiveTabFinder resolves the tab the user is looking at.
type ActiveTabFinder interface {
	ActiveTab(ctx context.Context) (types.TabInfo, error)
}

// Asker posts a question to the backend.
type Asker interface {
	Ask(ctx context.Context, baseURL, question string) (backend.Reply, error)
}

// Presenter renders modals in a tab. panel.Modals implements it.
type Presenter interface {
	Install(ctx context.Context, id types.TabID) bool
	Response(ctx context.Context, id types.TabID, question, text, source string, confidence float64) bool
	Error(ctx context.Context, id types.TabID, message string) bool
}

// Options tunes a Relay. Zero values select defaults.
type Options struct {
	// BackendURL returns the current backend base URL.
	BackendURL func() string
	// SettleDelay is the pause between installing the modal capability and
	// requesting a modal.
	SettleDelay time.Duration
	// Restricted overrides inject.IsRestrictedURL.
	Restricted func(url string) bool
	// Broker receives every outcome when set.
	Broker *Broker
}

// Outcome reports what a relay produced and whether it reached a tab.
type Outcome struct {
	Kind      string         `json:"kind"`
	TabID     types.TabID    `json:"tab_id,omitempty"`
	Delivered bool           `json:"delivered"`
	Message   string         `json:"message,omitempty"`
	Reply     *backend.Reply `json:"reply,omitempty"`
}

// Relay routes backend results into the active tab.
type Relay struct {
	tabs    ActiveTabFinder
	backend Asker
	modals  Presenter
	opts    Options

	sleep func(ctx context.Context, d time.Duration) error
}

func New(tabs ActiveTabFinder, asker Asker, modals Presenter, opts Options) *Relay {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.Restricted == nil {
		opts.Restricted = inject.IsRestrictedURL
	}
	if opts.BackendURL == nil {
		opts.BackendURL = func() string { return "" }
	}
	return &Relay{tabs: tabs, backend: asker, modals: modals, opts: opts, sleep: sleepCtx}
}

// Relay sends text to the backend and displays the answer, or the failure,
// in the active tab. Nothing is retried and display problems are only
// logged; the returned Outcome says whether a modal was acknowledged.
func (r *Relay) Relay(ctx context.Context, text string) Outcome {
	baseURL := r.opts.BackendURL()

	reply, err := r.backend.Ask(ctx, baseURL, text)
	var out Outcome
	if err != nil {
		msg := failureMessage(err, baseURL)
		slog.Warn("backend request failed", "backend_url", baseURL, "error", err)
		out = Outcome{Kind: OutcomeError, Message: msg}
		out.TabID, out.Delivered = r.show(ctx, OutcomeError, func(id types.TabID) bool {
			return r.modals.Error(ctx, id, msg)
		})
	} else {
		slog.Info("backend answered", "source", reply.Source, "raw", reply.Raw)
		out = Outcome{Kind: OutcomeResponse, Reply: &reply}
		out.TabID, out.Delivered = r.show(ctx, OutcomeResponse, func(id types.TabID) bool {
			return r.modals.Response(ctx, id, text, reply.Text, reply.Source, reply.Confidence)
		})
	}

	if r.opts.Broker != nil {
		r.opts.Broker.PublishJSON(FeedRelay, out)
	}
	return out
}

// show resolves the active tab, installs the modal capability and calls
// request. Each failed step is logged and ends the attempt.
func (r *Relay) show(ctx context.Context, kind string, request func(types.TabID) bool) (types.TabID, bool) {
	tab, err := r.tabs.ActiveTab(ctx)
	if err != nil {
		slog.Warn("no active tab for modal", "kind", kind, "error", err)
		return "", false
	}
	if r.opts.Restricted(tab.URL) {
		slog.Info("active tab is restricted, modal skipped", "kind", kind, "tab_id", tab.TabID, "url", tab.URL)
		return tab.TabID, false
	}
	if !r.modals.Install(ctx, tab.TabID) {
		slog.Warn("modal capability unavailable", "kind", kind, "tab_id", tab.TabID)
		return tab.TabID, false
	}
	if err := r.sleep(ctx, r.opts.SettleDelay); err != nil {
		return tab.TabID, false
	}
	if !request(tab.TabID) {
		slog.Warn("modal not acknowledged", "kind", kind, "tab_id", tab.TabID)
		return tab.TabID, false
	}
	return tab.TabID, true
}

func failureMessage(err error, baseURL string) string {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("Backend returned %d: %s\n\n%s", statusErr.Code, statusErr.Status, statusErr.Body)
	}
	return fmt.Sprintf("Connection failed: %s\n\nMake sure the backend server is running on %s",
		strings.TrimSpace(err.Error()), baseURL)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
