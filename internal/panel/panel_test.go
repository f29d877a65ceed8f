package panel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/tabpanel/internal/types"
)

// fakeEvaluator answers every Evaluate with a canned data payload or error
// and records the scripts it saw.
type fakeEvaluator struct {
	data    string
	err     error
	scripts []string
	tabs    []types.TabID
}

func (f *fakeEvaluator) Evaluate(_ context.Context, id types.TabID, js string, out any) error {
	f.scripts = append(f.scripts, js)
	f.tabs = append(f.tabs, id)
	if f.err != nil {
		return f.err
	}
	if out == nil || f.data == "" {
		return nil
	}
	return json.Unmarshal([]byte(f.data), out)
}

func TestProbeReportsPresentPanel(t *testing.T) {
	eval := &fakeEvaluator{data: `{"exists":true,"visible":true}`}
	got := NewProber(eval).Probe(context.Background(), "7")
	if !got.Present() {
		t.Fatalf("Probe() = %+v; want present", got)
	}
	if eval.tabs[0] != "7" {
		t.Fatalf("Probe() evaluated in tab %q; want 7", eval.tabs[0])
	}
	if !strings.Contains(eval.scripts[0], HostID) {
		t.Fatalf("probe script does not look for %s", HostID)
	}
}

func TestProbeHiddenPanel(t *testing.T) {
	eval := &fakeEvaluator{data: `{"exists":true,"visible":false}`}
	got := NewProber(eval).Probe(context.Background(), "7")
	if got.Present() || !got.Exists {
		t.Fatalf("Probe() = %+v; want exists but not visible", got)
	}
}

func TestProbeFailureReadsAsAbsent(t *testing.T) {
	eval := &fakeEvaluator{err: errors.New("target closed")}
	got := NewProber(eval).Probe(context.Background(), "7")
	if got != (types.PanelProbeResult{}) {
		t.Fatalf("Probe() = %+v; want zero result", got)
	}
}

func TestProbeMalformedResultReadsAsAbsent(t *testing.T) {
	eval := &fakeEvaluator{data: `"nope"`}
	got := NewProber(eval).Probe(context.Background(), "7")
	if got != (types.PanelProbeResult{}) {
		t.Fatalf("Probe() = %+v; want zero result", got)
	}
}

func TestProbeVisibleWithoutExistsIsNormalized(t *testing.T) {
	eval := &fakeEvaluator{data: `{"exists":false,"visible":true}`}
	got := NewProber(eval).Probe(context.Background(), "7")
	if got.Visible {
		t.Fatalf("Probe() = %+v; want visible=false when panel is absent", got)
	}
}

func TestInjectRemovesEveryKnownRoot(t *testing.T) {
	eval := &fakeEvaluator{data: `{"removed":2}`}
	if !NewExecutor(eval).Inject(context.Background(), "7") {
		t.Fatal("Inject() = false; want true")
	}
	script := eval.scripts[0]
	for _, id := range allHostIDs() {
		if !strings.Contains(script, id) {
			t.Fatalf("inject script does not remove %s", id)
		}
	}
	if !strings.Contains(script, BindingName) {
		t.Fatalf("inject script does not wire controls through %s", BindingName)
	}
}

func TestInjectFailureReturnsFalse(t *testing.T) {
	eval := &fakeEvaluator{err: errors.New("RESTRICTED_PAGE")}
	if NewExecutor(eval).Inject(context.Background(), "7") {
		t.Fatal("Inject() = true; want false")
	}
}

func TestToggle(t *testing.T) {
	for _, state := range []ToggleState{ToggleVisible, ToggleHidden, ToggleNotFound} {
		eval := &fakeEvaluator{data: `{"state":"` + string(state) + `"}`}
		got, err := Toggle(context.Background(), eval, "7")
		if err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
		if got != state {
			t.Fatalf("Toggle() = %q; want %q", got, state)
		}
	}
}

func TestToggleError(t *testing.T) {
	eval := &fakeEvaluator{err: errors.New("boom")}
	if _, err := Toggle(context.Background(), eval, "7"); err == nil {
		t.Fatal("Toggle() error = nil; want error")
	}
}

func TestSelectorList(t *testing.T) {
	if got := selectorList([]string{"a", "b"}); got != "#a, #b" {
		t.Fatalf("selectorList() = %q; want %q", got, "#a, #b")
	}
}
