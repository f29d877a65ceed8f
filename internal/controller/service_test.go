package controller

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/dgnsrekt/tabpanel/internal/capture"
	"github.com/dgnsrekt/tabpanel/internal/cdpcontrol"
	"github.com/dgnsrekt/tabpanel/internal/config"
	"github.com/dgnsrekt/tabpanel/internal/panel"
	"github.com/dgnsrekt/tabpanel/internal/relay"
	"github.com/dgnsrekt/tabpanel/internal/storage"
	"github.com/dgnsrekt/tabpanel/internal/types"
)

type fakeBrowser struct {
	tabs     []types.TabInfo
	listErr  error
	evalData any
	evalErr  error
}

func (f *fakeBrowser) ListTabs(context.Context) ([]types.TabInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]types.TabInfo(nil), f.tabs...), nil
}

func (f *fakeBrowser) TabURL(id types.TabID) (string, bool) {
	for _, t := range f.tabs {
		if t.TabID == id {
			return t.URL, true
		}
	}
	return "", false
}

func (f *fakeBrowser) Evaluate(_ context.Context, _ types.TabID, _ string, out any) error {
	if f.evalErr != nil {
		return f.evalErr
	}
	data, _ := json.Marshal(f.evalData)
	return json.Unmarshal(data, out)
}

type fakeInjector struct {
	mu       sync.Mutex
	events   []types.Event
	forced   []types.TabID
	forceOK  bool
	forceErr error
	states   map[types.TabID]types.TabState
}

func (f *fakeInjector) Dispatch(ev types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeInjector) ForceInject(_ context.Context, id types.TabID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, id)
	return f.forceOK, f.forceErr
}

func (f *fakeInjector) Injected() []types.TabID {
	var ids []types.TabID
	for id, s := range f.states {
		if s == types.StateInjected {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeInjector) State(id types.TabID) types.TabState {
	if s, ok := f.states[id]; ok {
		return s
	}
	return types.StateUnknown
}

type fakeExtractor struct {
	res   capture.Result
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, types.TabID) (capture.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeStore struct {
	saved []types.Extraction
}

func (f *fakeStore) Save(_ context.Context, ext types.Extraction) (types.Extraction, error) {
	f.saved = append(f.saved, ext)
	return ext, nil
}

func (f *fakeStore) List(context.Context, int) ([]types.Extraction, error) { return f.saved, nil }

func (f *fakeStore) Get(_ context.Context, id string) (types.Extraction, error) {
	for _, e := range f.saved {
		if e.ID == id {
			return e, nil
		}
	}
	return types.Extraction{}, storage.ErrNotFound
}

type fakeImages struct {
	written map[int]string
}

func (f *fakeImages) WritePNG(tabID, extractionID string, index int, data []byte) (string, error) {
	if f.written == nil {
		f.written = map[int]string{}
	}
	f.written[index] = string(data)
	return "/img/" + tabID + "/" + extractionID, nil
}

type fakeRelay struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeRelay) Relay(_ context.Context, text string) relay.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return relay.Outcome{Kind: relay.OutcomeResponse, Delivered: true}
}

type fakeBackend struct {
	baseURL string
	err     error
}

func (f *fakeBackend) Health(_ context.Context, baseURL string) (map[string]any, error) {
	f.baseURL = baseURL
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"status": "healthy"}, nil
}

type fakeSettings struct {
	cur config.Settings
}

func (f *fakeSettings) Get() config.Settings { return f.cur }

func (f *fakeSettings) Update(p config.SettingsPatch) (config.Settings, error) {
	if p.BackendURL != nil && *p.BackendURL == "bad" {
		return f.cur, config.ErrInvalidBackendURL
	}
	if p.AutoInject != nil {
		f.cur.AutoInject = *p.AutoInject
	}
	return f.cur, nil
}

type fixture struct {
	svc      *Service
	browser  *fakeBrowser
	injector *fakeInjector
	extract  *fakeExtractor
	store    *fakeStore
	images   *fakeImages
	relay    *fakeRelay
	backend  *fakeBackend
}

func newFixture() *fixture {
	f := &fixture{
		browser: &fakeBrowser{tabs: []types.TabInfo{
			{TabID: "7", URL: "https://example.com/"},
			{TabID: "9", URL: "chrome://settings"},
		}},
		injector: &fakeInjector{forceOK: true, states: map[types.TabID]types.TabState{"7": types.StateInjected}},
		extract:  &fakeExtractor{},
		store:    &fakeStore{},
		images:   &fakeImages{},
		relay:    &fakeRelay{},
		backend:  &fakeBackend{},
	}
	f.svc = NewService(Deps{
		Browser:     f.browser,
		Injector:    f.injector,
		Extractor:   f.extract,
		Extractions: f.store,
		Images:      f.images,
		Relay:       f.relay,
		Backend:     f.backend,
		Settings:    &fakeSettings{cur: config.Settings{AutoInject: true, BackendURL: "http://localhost:8000"}},
	})
	f.svc.newID = func() string { return "ext-1" }
	return f
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var coded *cdpcontrol.CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("error = %v (%T); want *cdpcontrol.CodedError", err, err)
	}
	return coded.Code
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("7", "tab_id"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	err := s.requireNonEmpty("   ", "tab_id")
	var got *cdpcontrol.CodedError
	if !errors.As(err, &got) {
		t.Fatalf("requireNonEmpty() = %T; want *cdpcontrol.CodedError", err)
	}
	if got.Code != cdpcontrol.CodeValidation || got.Message != "tab_id is required" {
		t.Fatalf("requireNonEmpty() = %q/%q; want VALIDATION/tab_id is required", got.Code, got.Message)
	}
}

func TestListTabsAddsState(t *testing.T) {
	f := newFixture()
	tabs, err := f.svc.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs() error = %v", err)
	}
	if tabs[0].State != types.StateInjected || tabs[1].State != types.StateUnknown {
		t.Fatalf("ListTabs() = %+v; want injected then unknown", tabs)
	}
}

func TestHealthReportsRegistryBeliefs(t *testing.T) {
	f := newFixture()
	h := f.svc.Health(context.Background())
	if h.Status != "ok" || h.Tabs != 2 {
		t.Fatalf("Health() = %+v; want ok with 2 tabs", h)
	}
	if h.Injected != 1 || len(h.InjectedTabs) != 1 || h.InjectedTabs[0] != "7" {
		t.Fatalf("Health() injected = %d %v; want [7]", h.Injected, h.InjectedTabs)
	}
}

func TestListTabsBrowserDown(t *testing.T) {
	f := newFixture()
	f.browser.listErr = errors.New("dial tcp: connection refused")
	_, err := f.svc.ListTabs(context.Background())
	if got := codeOf(t, err); got != cdpcontrol.CodeCDPUnavailable {
		t.Fatalf("ListTabs() code = %q; want %q", got, cdpcontrol.CodeCDPUnavailable)
	}
	if h := f.svc.Health(context.Background()); h.Status != "degraded" {
		t.Fatalf("Health() = %+v; want degraded", h)
	}
}

func TestForceInject(t *testing.T) {
	f := newFixture()
	ok, err := f.svc.ForceInject(context.Background(), " 7 ")
	if err != nil || !ok {
		t.Fatalf("ForceInject() = %v, %v; want true, nil", ok, err)
	}
	if len(f.injector.forced) != 1 || f.injector.forced[0] != "7" {
		t.Fatalf("forced = %v; want [7]", f.injector.forced)
	}
}

func TestForceInjectRejectsRestrictedAndUnknown(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ForceInject(context.Background(), "9")
	if got := codeOf(t, err); got != cdpcontrol.CodeRestrictedPage {
		t.Fatalf("ForceInject(restricted) code = %q", got)
	}
	_, err = f.svc.ForceInject(context.Background(), "42")
	if got := codeOf(t, err); got != cdpcontrol.CodeTabNotFound {
		t.Fatalf("ForceInject(unknown) code = %q", got)
	}
	_, err = f.svc.ForceInject(context.Background(), "")
	if got := codeOf(t, err); got != cdpcontrol.CodeValidation {
		t.Fatalf("ForceInject(empty) code = %q", got)
	}
	if len(f.injector.forced) != 0 {
		t.Fatalf("forced = %v; want none", f.injector.forced)
	}
}

func TestMarkReplacedDispatches(t *testing.T) {
	f := newFixture()
	if err := f.svc.MarkReplaced(context.Background(), "7", "11"); err != nil {
		t.Fatalf("MarkReplaced() error = %v", err)
	}
	want := types.Replaced("7", "11")
	if len(f.injector.events) != 1 || f.injector.events[0] != want {
		t.Fatalf("events = %+v; want [%+v]", f.injector.events, want)
	}
	if got := codeOf(t, f.svc.MarkReplaced(context.Background(), "7", " ")); got != cdpcontrol.CodeValidation {
		t.Fatalf("MarkReplaced(empty new id) code = %q", got)
	}
}

func TestTogglePanel(t *testing.T) {
	f := newFixture()
	f.browser.evalData = map[string]string{"state": "hidden"}
	state, err := f.svc.TogglePanel(context.Background(), "7")
	if err != nil || state != panel.ToggleHidden {
		t.Fatalf("TogglePanel() = %q, %v; want hidden", state, err)
	}

	f.browser.evalErr = errors.New("Execution context was destroyed")
	_, err = f.svc.TogglePanel(context.Background(), "7")
	if got := codeOf(t, err); got != cdpcontrol.CodeEvalFailure {
		t.Fatalf("TogglePanel() code = %q; want EVAL_FAILURE", got)
	}
}

func TestExtractCanvasStoresImages(t *testing.T) {
	f := newFixture()
	f.extract.res = capture.Result{
		Canvases: []types.CanvasInfo{
			{Index: 0, Width: 300, Height: 150, Success: true, DataURL: "data:image/png;base64,AA..."},
			{Index: 1, Error: "tainted"},
		},
		PNGs: map[int][]byte{0: []byte("png0")},
	}

	ext, err := f.svc.ExtractCanvas(context.Background(), "7")
	if err != nil {
		t.Fatalf("ExtractCanvas() error = %v", err)
	}
	if ext.ID != "ext-1" || ext.URL != "https://example.com/" || len(ext.Canvases) != 2 {
		t.Fatalf("ExtractCanvas() = %+v", ext)
	}
	if ext.Canvases[0].ImagePath != "/img/7/ext-1" || ext.Canvases[1].ImagePath != "" {
		t.Fatalf("image paths = %q, %q; want only canvas 0", ext.Canvases[0].ImagePath, ext.Canvases[1].ImagePath)
	}
	if f.images.written[0] != "png0" {
		t.Fatalf("written = %v; want canvas 0 bytes", f.images.written)
	}
	if len(f.store.saved) != 1 {
		t.Fatalf("saved = %d; want 1", len(f.store.saved))
	}

	got, err := f.svc.GetExtraction(context.Background(), "ext-1")
	if err != nil || got.ID != "ext-1" {
		t.Fatalf("GetExtraction() = %+v, %v", got, err)
	}
}

func TestExtractCanvasFailure(t *testing.T) {
	f := newFixture()
	f.extract.err = errors.New("attach to tab: no such target")
	_, err := f.svc.ExtractCanvas(context.Background(), "7")
	if got := codeOf(t, err); got != cdpcontrol.CodeEvalFailure {
		t.Fatalf("ExtractCanvas() code = %q; want EVAL_FAILURE", got)
	}
	if len(f.store.saved) != 0 {
		t.Fatal("failed extraction was stored")
	}
}

func TestGetExtractionNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.GetExtraction(context.Background(), "missing")
	if got := codeOf(t, err); got != cdpcontrol.CodeNotFound {
		t.Fatalf("GetExtraction() code = %q; want NOT_FOUND", got)
	}
}

func TestListExtractionsLimit(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ListExtractions(context.Background(), 501)
	if got := codeOf(t, err); got != cdpcontrol.CodeValidation {
		t.Fatalf("ListExtractions(501) code = %q", got)
	}
}

func TestAsk(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Ask(context.Background(), "  "); codeOf(t, err) != cdpcontrol.CodeValidation {
		t.Fatalf("Ask(blank) error = %v; want validation", err)
	}
	out, err := f.svc.Ask(context.Background(), " hello ")
	if err != nil || !out.Delivered {
		t.Fatalf("Ask() = %+v, %v", out, err)
	}
	if len(f.relay.texts) != 1 || f.relay.texts[0] != "hello" {
		t.Fatalf("relayed = %q; want [hello]", f.relay.texts)
	}
}

func TestBackendHealth(t *testing.T) {
	f := newFixture()
	st := f.svc.BackendHealth(context.Background())
	if !st.OK || st.URL != "http://localhost:8000" || f.backend.baseURL != "http://localhost:8000" {
		t.Fatalf("BackendHealth() = %+v; want ok against settings url", st)
	}

	f.backend.err = errors.New("connection refused")
	st = f.svc.BackendHealth(context.Background())
	if st.OK || st.Error == "" {
		t.Fatalf("BackendHealth() = %+v; want failure reported", st)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	f := newFixture()
	bad := "bad"
	_, err := f.svc.UpdateSettings(config.SettingsPatch{BackendURL: &bad})
	if got := codeOf(t, err); got != cdpcontrol.CodeValidation {
		t.Fatalf("UpdateSettings() code = %q; want VALIDATION", got)
	}
	off := false
	got, err := f.svc.UpdateSettings(config.SettingsPatch{AutoInject: &off})
	if err != nil || got.AutoInject {
		t.Fatalf("UpdateSettings() = %+v, %v; want auto inject off", got, err)
	}
}

func TestSweepDispatchesCompleted(t *testing.T) {
	f := newFixture()
	if err := f.svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	want := []types.Event{
		types.Completed("7", "https://example.com/"),
		types.Completed("9", "chrome://settings"),
	}
	if len(f.injector.events) != len(want) {
		t.Fatalf("events = %+v; want %+v", f.injector.events, want)
	}
	for i := range want {
		if f.injector.events[i] != want[i] {
			t.Fatalf("events[%d] = %+v; want %+v", i, f.injector.events[i], want[i])
		}
	}
}

func TestHandlePanelMessage(t *testing.T) {
	f := newFixture()
	f.extract.res = capture.Result{Canvases: []types.CanvasInfo{}}

	f.svc.HandlePanelMessage(context.Background(), "7", `{"action":"ask","text":"what?"}`)
	f.svc.HandlePanelMessage(context.Background(), "7", `{"action":"extract_canvas"}`)
	f.svc.HandlePanelMessage(context.Background(), "7", `{"action":"ask","text":"  "}`)
	f.svc.HandlePanelMessage(context.Background(), "7", `not json`)
	f.svc.HandlePanelMessage(context.Background(), "7", `{"action":"dance"}`)

	if len(f.relay.texts) != 1 || f.relay.texts[0] != "what?" {
		t.Fatalf("relayed = %q; want [what?]", f.relay.texts)
	}
	if f.extract.calls != 1 || len(f.store.saved) != 1 {
		t.Fatalf("extract calls = %d saved = %d; want 1 and 1", f.extract.calls, len(f.store.saved))
	}
}
