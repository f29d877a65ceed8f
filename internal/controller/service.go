package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/tabpanel/internal/capture"
	"github.com/dgnsrekt/tabpanel/internal/cdpcontrol"
	"github.com/dgnsrekt/tabpanel/internal/config"
	"github.com/dgnsrekt/tabpanel/internal/inject"
	"github.com/dgnsrekt/tabpanel/internal/panel"
	"github.com/dgnsrekt/tabpanel/internal/relay"
	"github.com/dgnsrekt/tabpanel/internal/storage"
	"github.com/dgnsrekt/tabpanel/internal/types"
	"github.com/google/uuid"
)

const panelActionTimeout = 45 * time.Second

// Browser is the slice of the CDP client the service needs.
type Browser interface {
	ListTabs(ctx context.Context) ([]types.TabInfo, error)
	TabURL(id types.TabID) (string, bool)
	Evaluate(ctx context.Context, id types.TabID, js string, out any) error
}

// Injector is the injection coordinator.
type Injector interface {
	Dispatch(ev types.Event) error
	ForceInject(ctx context.Context, id types.TabID) (bool, error)
	State(id types.TabID) types.TabState
	Injected() []types.TabID
}

type CanvasExtractor interface {
	Extract(ctx context.Context, id types.TabID) (capture.Result, error)
}

type ExtractionStore interface {
	Save(ctx context.Context, ext types.Extraction) (types.Extraction, error)
	List(ctx context.Context, limit int) ([]types.Extraction, error)
	Get(ctx context.Context, id string) (types.Extraction, error)
}

// ImageSink stores decoded canvas images. Optional.
type ImageSink interface {
	WritePNG(tabID, extractionID string, index int, data []byte) (string, error)
}

type Relayer interface {
	Relay(ctx context.Context, text string) relay.Outcome
}

type BackendProber interface {
	Health(ctx context.Context, baseURL string) (map[string]any, error)
}

type Settings interface {
	Get() config.Settings
	Update(patch config.SettingsPatch) (config.Settings, error)
}

// Deps are the collaborators of a Service. Images may be nil.
type Deps struct {
	Browser     Browser
	Injector    Injector
	Extractor   CanvasExtractor
	Extractions ExtractionStore
	Images      ImageSink
	Relay       Relayer
	Backend     BackendProber
	Settings    Settings
}

// Service implements the control operations behind the HTTP API and the
// in-page panel buttons.
type Service struct {
	d          Deps
	restricted func(url string) bool
	newID      func() string
}

func NewService(d Deps) *Service {
	return &Service{d: d, restricted: inject.IsRestrictedURL, newID: uuid.NewString}
}

// HealthStatus summarises controller health.
type HealthStatus struct {
	Status       string        `json:"status"`
	Tabs         int           `json:"tabs"`
	Injected     int           `json:"injected"`
	InjectedTabs []types.TabID `json:"injected_tabs"`
	Error        string        `json:"error,omitempty"`
}

// BackendStatus is the result of a backend connection test.
type BackendStatus struct {
	URL      string         `json:"url"`
	OK       bool           `json:"ok"`
	Response map[string]any `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) Health(ctx context.Context) HealthStatus {
	tabs, err := s.ListTabs(ctx)
	if err != nil {
		return HealthStatus{Status: "degraded", InjectedTabs: []types.TabID{}, Error: err.Error()}
	}
	// The registry is advisory: a tab counts here until the next probe or
	// Completed says otherwise.
	injected := s.d.Injector.Injected()
	return HealthStatus{Status: "ok", Tabs: len(tabs), Injected: len(injected), InjectedTabs: injected}
}

// ListTabs returns open page tabs annotated with the coordinator's state.
func (s *Service) ListTabs(ctx context.Context) ([]types.TabInfo, error) {
	tabs, err := s.d.Browser.ListTabs(ctx)
	if err != nil {
		return nil, asCoded(err, cdpcontrol.CodeCDPUnavailable, "list tabs")
	}
	for i := range tabs {
		tabs[i].State = s.d.Injector.State(tabs[i].TabID)
	}
	return tabs, nil
}

// lookupTab returns the tab's last known URL, refreshing the tab list once
// when the id is not tracked yet.
func (s *Service) lookupTab(ctx context.Context, id types.TabID) (string, error) {
	if url, ok := s.d.Browser.TabURL(id); ok {
		return url, nil
	}
	tabs, err := s.d.Browser.ListTabs(ctx)
	if err != nil {
		return "", asCoded(err, cdpcontrol.CodeCDPUnavailable, "list tabs")
	}
	for _, t := range tabs {
		if t.TabID == id {
			return t.URL, nil
		}
	}
	return "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: fmt.Sprintf("tab %q not found", id)}
}

func (s *Service) requireInjectable(ctx context.Context, tabID string) (types.TabID, string, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return "", "", err
	}
	id := types.TabID(strings.TrimSpace(tabID))
	url, err := s.lookupTab(ctx, id)
	if err != nil {
		return "", "", err
	}
	if s.restricted(url) {
		return "", "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeRestrictedPage, Message: fmt.Sprintf("tab %q shows a restricted page (%s)", id, url)}
	}
	return id, url, nil
}

// ForceInject evicts any belief about the tab and injects a fresh panel.
func (s *Service) ForceInject(ctx context.Context, tabID string) (bool, error) {
	id, _, err := s.requireInjectable(ctx, tabID)
	if err != nil {
		return false, err
	}
	ok, err := s.d.Injector.ForceInject(ctx, id)
	if err != nil {
		return false, asCoded(err, cdpcontrol.CodeCDPUnavailable, "force inject")
	}
	return ok, nil
}

// MarkReplaced reports that oldID's tab was swapped for newID.
func (s *Service) MarkReplaced(ctx context.Context, oldID, newID string) error {
	if err := s.requireNonEmpty(oldID, "tab_id"); err != nil {
		return err
	}
	if err := s.requireNonEmpty(newID, "new_tab_id"); err != nil {
		return err
	}
	ev := types.Replaced(types.TabID(strings.TrimSpace(oldID)), types.TabID(strings.TrimSpace(newID)))
	if err := s.d.Injector.Dispatch(ev); err != nil {
		return asCoded(err, cdpcontrol.CodeCDPUnavailable, "dispatch replaced")
	}
	return nil
}

// TogglePanel flips the visibility of the tab's panel.
func (s *Service) TogglePanel(ctx context.Context, tabID string) (panel.ToggleState, error) {
	id, _, err := s.requireInjectable(ctx, tabID)
	if err != nil {
		return "", err
	}
	state, err := panel.Toggle(ctx, s.d.Browser, id)
	if err != nil {
		return "", asCoded(err, cdpcontrol.CodeEvalFailure, "toggle panel")
	}
	return state, nil
}

// ExtractCanvas reads every canvas in the tab and stores the result.
func (s *Service) ExtractCanvas(ctx context.Context, tabID string) (types.Extraction, error) {
	id, url, err := s.requireInjectable(ctx, tabID)
	if err != nil {
		return types.Extraction{}, err
	}
	res, err := s.d.Extractor.Extract(ctx, id)
	if err != nil {
		return types.Extraction{}, asCoded(err, cdpcontrol.CodeEvalFailure, "extract canvas")
	}

	ext := types.Extraction{
		ID:       s.newID(),
		TabID:    id,
		URL:      url,
		Canvases: res.Canvases,
	}
	if s.d.Images != nil {
		for i := range ext.Canvases {
			data, ok := res.PNGs[ext.Canvases[i].Index]
			if !ok {
				continue
			}
			path, err := s.d.Images.WritePNG(string(id), ext.ID, ext.Canvases[i].Index, data)
			if err != nil {
				slog.Warn("canvas image write failed", "tab_id", id, "index", ext.Canvases[i].Index, "error", err)
				continue
			}
			ext.Canvases[i].ImagePath = path
		}
	}

	saved, err := s.d.Extractions.Save(ctx, ext)
	if err != nil {
		return types.Extraction{}, fmt.Errorf("save extraction: %w", err)
	}
	slog.Info("canvas extraction stored", "tab_id", id, "extraction_id", saved.ID, "canvases", len(saved.Canvases))
	return saved, nil
}

func (s *Service) ListExtractions(ctx context.Context, limit int) ([]types.Extraction, error) {
	if limit < 0 || limit > 500 {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "limit must be between 0 and 500"}
	}
	return s.d.Extractions.List(ctx, limit)
}

func (s *Service) GetExtraction(ctx context.Context, id string) (types.Extraction, error) {
	if err := s.requireNonEmpty(id, "extraction_id"); err != nil {
		return types.Extraction{}, err
	}
	ext, err := s.d.Extractions.Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Extraction{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeNotFound, Message: fmt.Sprintf("extraction %q not found", id)}
	}
	return ext, err
}

// Ask relays text to the backend and shows the result in the active tab.
func (s *Service) Ask(ctx context.Context, text string) (relay.Outcome, error) {
	if err := s.requireNonEmpty(text, "text"); err != nil {
		return relay.Outcome{}, err
	}
	return s.d.Relay.Relay(ctx, strings.TrimSpace(text)), nil
}

// BackendHealth tests the connection to the configured backend. Failures
// are reported in the result, not as an error.
func (s *Service) BackendHealth(ctx context.Context) BackendStatus {
	url := s.d.Settings.Get().BackendURL
	resp, err := s.d.Backend.Health(ctx, url)
	if err != nil {
		slog.Info("backend health check failed", "backend_url", url, "error", err)
		return BackendStatus{URL: url, Error: err.Error()}
	}
	return BackendStatus{URL: url, OK: true, Response: resp}
}

func (s *Service) Settings() config.Settings {
	return s.d.Settings.Get()
}

func (s *Service) UpdateSettings(patch config.SettingsPatch) (config.Settings, error) {
	out, err := s.d.Settings.Update(patch)
	if errors.Is(err, config.ErrInvalidBackendURL) {
		return out, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error()}
	}
	return out, err
}

// Sweep feeds a Completed event for every open tab so pages that were
// already loaded when the controller started get a panel.
func (s *Service) Sweep(ctx context.Context) error {
	tabs, err := s.d.Browser.ListTabs(ctx)
	if err != nil {
		return err
	}
	for _, t := range tabs {
		if err := s.d.Injector.Dispatch(types.Completed(t.TabID, t.URL)); err != nil {
			return err
		}
	}
	slog.Info("startup sweep dispatched", "tabs", len(tabs))
	return nil
}

// HandlePanelMessage runs the action behind a panel button. The payload is
// the JSON the page passed to the binding.
func (s *Service) HandlePanelMessage(ctx context.Context, id types.TabID, payload string) {
	var msg types.PanelMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		slog.Warn("panel message malformed", "tab_id", id, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, panelActionTimeout)
	defer cancel()

	switch msg.Action {
	case types.PanelActionAsk:
		if strings.TrimSpace(msg.Text) == "" {
			slog.Debug("panel ask without text", "tab_id", id)
			return
		}
		out := s.d.Relay.Relay(ctx, strings.TrimSpace(msg.Text))
		slog.Info("panel ask relayed", "tab_id", id, "kind", out.Kind, "delivered", out.Delivered)
	case types.PanelActionExtractCanvas:
		ext, err := s.ExtractCanvas(ctx, string(id))
		if err != nil {
			slog.Warn("panel canvas extraction failed", "tab_id", id, "error", err)
			return
		}
		slog.Info("panel canvas extraction done", "tab_id", id, "extraction_id", ext.ID)
	default:
		slog.Warn("panel message with unknown action", "tab_id", id, "action", msg.Action)
	}
}

// asCoded keeps an existing CodedError and wraps anything else.
func asCoded(err error, code, msg string) error {
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		code = cdpcontrol.CodeEvalTimeout
	}
	return &cdpcontrol.CodedError{Code: code, Message: msg, Cause: err}
}
