// Package panel runs the in-page side of tabpanel: probing for a live panel,
// inserting it, toggling it and rendering response and error modals.
package panel

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/tabpanel/internal/types"
)

// Evaluator runs a wrapped script in a tab and decodes the envelope's data
// into out. cdpcontrol.Client implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, id types.TabID, js string, out any) error
}

// ToggleState is the panel visibility after a toggle.
type ToggleState string

const (
	ToggleVisible  ToggleState = "visible"
	ToggleHidden   ToggleState = "hidden"
	ToggleNotFound ToggleState = "not_found"
)

// Prober answers whether a tab currently shows a panel.
type Prober struct {
	eval Evaluator
}

func NewProber(eval Evaluator) *Prober {
	return &Prober{eval: eval}
}

// Probe never fails: any evaluation problem reads as no panel.
func (p *Prober) Probe(ctx context.Context, id types.TabID) types.PanelProbeResult {
	var out types.PanelProbeResult
	if err := p.eval.Evaluate(ctx, id, jsProbe(), &out); err != nil {
		slog.Debug("panel probe failed", "tab_id", id, "error", err)
		return types.PanelProbeResult{}
	}
	if !out.Exists {
		out.Visible = false
	}
	return out
}

// Executor inserts the panel.
type Executor struct {
	eval Evaluator
}

func NewExecutor(eval Evaluator) *Executor {
	return &Executor{eval: eval}
}

// Inject removes every existing panel root and inserts exactly one.
func (e *Executor) Inject(ctx context.Context, id types.TabID) bool {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := e.eval.Evaluate(ctx, id, jsInject(), &out); err != nil {
		slog.Debug("panel inject failed", "tab_id", id, "error", err)
		return false
	}
	if out.Removed > 0 {
		slog.Debug("panel roots replaced", "tab_id", id, "removed", out.Removed, "selectors", selectorList(allHostIDs()))
	}
	return true
}

// Toggle flips the panel's visibility.
func Toggle(ctx context.Context, eval Evaluator, id types.TabID) (ToggleState, error) {
	var out struct {
		State ToggleState `json:"state"`
	}
	if err := eval.Evaluate(ctx, id, jsToggle(), &out); err != nil {
		return "", err
	}
	return out.State, nil
}
