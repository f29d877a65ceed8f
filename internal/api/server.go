package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/tabpanel/internal/cdpcontrol"
	"github.com/dgnsrekt/tabpanel/internal/config"
	"github.com/dgnsrekt/tabpanel/internal/controller"
	"github.com/dgnsrekt/tabpanel/internal/panel"
	"github.com/dgnsrekt/tabpanel/internal/relay"
	"github.com/dgnsrekt/tabpanel/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	Health(ctx context.Context) controller.HealthStatus
	ListTabs(ctx context.Context) ([]types.TabInfo, error)
	ForceInject(ctx context.Context, tabID string) (bool, error)
	MarkReplaced(ctx context.Context, oldID, newID string) error
	TogglePanel(ctx context.Context, tabID string) (panel.ToggleState, error)
	ExtractCanvas(ctx context.Context, tabID string) (types.Extraction, error)
	ListExtractions(ctx context.Context, limit int) ([]types.Extraction, error)
	GetExtraction(ctx context.Context, id string) (types.Extraction, error)
	Ask(ctx context.Context, text string) (relay.Outcome, error)
	BackendHealth(ctx context.Context) controller.BackendStatus
	Settings() config.Settings
	UpdateSettings(patch config.SettingsPatch) (config.Settings, error)
}

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"CDP target id of the tab"`
}

// NewServer builds the control API. broker may be nil, in which case the
// event stream is not mounted.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("tabpanel Controller API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}

	registerHealthHandlers(api, svc)
	registerTabHandlers(api, svc)
	registerExtractionHandlers(api, svc)
	registerRelayHandlers(api, svc)
	registerSettingsHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound, cdpcontrol.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeRestrictedPage:
			return huma.Error422UnprocessableEntity(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeBackendUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
