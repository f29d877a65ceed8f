package panel

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/tabpanel/internal/types"
)

// Modals renders response and error modals in a tab. Every method reports
// success as a bool; failures are logged, not returned.
type Modals struct {
	eval Evaluator
}

func NewModals(eval Evaluator) *Modals {
	return &Modals{eval: eval}
}

// Install makes createResponseModal and createErrorModal available in the
// tab's document. It is a no-op when they already are.
func (m *Modals) Install(ctx context.Context, id types.TabID) bool {
	var out struct {
		Installed bool `json:"installed"`
	}
	if err := m.eval.Evaluate(ctx, id, jsInstallModal(), &out); err != nil {
		slog.Warn("modal install failed", "tab_id", id, "error", err)
		return false
	}
	slog.Debug("modal capability ready", "tab_id", id, "fresh", out.Installed)
	return true
}

func (m *Modals) Response(ctx context.Context, id types.TabID, question, text, source string, confidence float64) bool {
	return m.call(ctx, id, "response", jsCreateResponseModal(question, text, source, confidence))
}

func (m *Modals) Error(ctx context.Context, id types.TabID, message string) bool {
	return m.call(ctx, id, "error", jsCreateErrorModal(message))
}

func (m *Modals) call(ctx context.Context, id types.TabID, kind, js string) bool {
	var out struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := m.eval.Evaluate(ctx, id, js, &out); err != nil {
		slog.Warn("modal request failed", "tab_id", id, "kind", kind, "error", err)
		return false
	}
	return out.Acknowledged
}
