package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tabpanel/internal/config"
	"github.com/dgnsrekt/tabpanel/internal/controller"
	"github.com/dgnsrekt/tabpanel/internal/relay"
)

func registerRelayHandlers(api huma.API, svc Service) {
	type askInput struct {
		Body struct {
			Text string `json:"text" doc:"Question forwarded to the backend"`
		}
	}
	type askOutput struct {
		Body relay.Outcome
	}
	huma.Register(api, huma.Operation{OperationID: "ask", Method: http.MethodPost, Path: "/api/v1/ask", Summary: "Relay text to the backend and show the answer in the active tab", Tags: []string{"Backend"}},
		func(ctx context.Context, input *askInput) (*askOutput, error) {
			outcome, err := svc.Ask(ctx, input.Body.Text)
			if err != nil {
				return nil, mapErr(err)
			}
			return &askOutput{Body: outcome}, nil
		})

	type backendHealthOutput struct {
		Body controller.BackendStatus
	}
	huma.Register(api, huma.Operation{OperationID: "backend-health", Method: http.MethodGet, Path: "/api/v1/backend/health", Summary: "Test the backend connection", Tags: []string{"Backend"}},
		func(ctx context.Context, input *struct{}) (*backendHealthOutput, error) {
			return &backendHealthOutput{Body: svc.BackendHealth(ctx)}, nil
		})
}

func registerSettingsHandlers(api huma.API, svc Service) {
	type settingsOutput struct {
		Body config.Settings
	}
	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Read user settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			return &settingsOutput{Body: svc.Settings()}, nil
		})

	type updateInput struct {
		Body struct {
			AutoInject *bool   `json:"auto_inject,omitempty" doc:"Inject the panel automatically after page loads"`
			BackendURL *string `json:"backend_url,omitempty" doc:"Base URL of the backend, e.g. http://localhost:8000"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "update-settings", Method: http.MethodPut, Path: "/api/v1/settings", Summary: "Update user settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *updateInput) (*settingsOutput, error) {
			updated, err := svc.UpdateSettings(config.SettingsPatch{
				AutoInject: input.Body.AutoInject,
				BackendURL: input.Body.BackendURL,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: updated}, nil
		})
}
