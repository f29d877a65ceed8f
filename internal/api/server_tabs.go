package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tabpanel/internal/controller"
	"github.com/dgnsrekt/tabpanel/internal/panel"
	"github.com/dgnsrekt/tabpanel/internal/types"
)

func registerHealthHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body controller.HealthStatus
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			return &healthOutput{Body: svc.Health(ctx)}, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []types.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open page tabs with their injection state", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type injectOutput struct {
		Body struct {
			TabID   string `json:"tab_id"`
			Success bool   `json:"success"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "force-inject", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/inject", Summary: "Force a fresh panel injection", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*injectOutput, error) {
			ok, err := svc.ForceInject(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &injectOutput{}
			out.Body.TabID = input.TabID
			out.Body.Success = ok
			return out, nil
		})

	type replacedInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			NewTabID string `json:"new_tab_id" doc:"Tab that took the old tab's place"`
		}
	}
	type replacedOutput struct {
		Body struct {
			TabID    string `json:"tab_id"`
			NewTabID string `json:"new_tab_id"`
			Status   string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "tab-replaced", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/replaced", Summary: "Report that a tab was replaced by another", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *replacedInput) (*replacedOutput, error) {
			if err := svc.MarkReplaced(ctx, input.TabID, input.Body.NewTabID); err != nil {
				return nil, mapErr(err)
			}
			out := &replacedOutput{}
			out.Body.TabID = input.TabID
			out.Body.NewTabID = input.Body.NewTabID
			out.Body.Status = "queued"
			return out, nil
		})

	type toggleOutput struct {
		Body struct {
			TabID string            `json:"tab_id"`
			State panel.ToggleState `json:"state" enum:"visible,hidden,not_found"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "toggle-panel", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/toggle", Summary: "Show or hide the panel", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*toggleOutput, error) {
			state, err := svc.TogglePanel(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &toggleOutput{}
			out.Body.TabID = input.TabID
			out.Body.State = state
			return out, nil
		})
}

func registerExtractionHandlers(api huma.API, svc Service) {
	type extractionOutput struct {
		Body types.Extraction
	}
	huma.Register(api, huma.Operation{OperationID: "extract-canvas", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/canvas", Summary: "Extract and store every canvas in a tab", Tags: []string{"Canvas"}},
		func(ctx context.Context, input *tabIDInput) (*extractionOutput, error) {
			ext, err := svc.ExtractCanvas(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &extractionOutput{Body: ext}, nil
		})

	type listInput struct {
		Limit int `query:"limit" default:"50" minimum:"0" maximum:"500" doc:"Maximum number of extractions to return"`
	}
	type listOutput struct {
		Body struct {
			Extractions []types.Extraction `json:"extractions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-extractions", Method: http.MethodGet, Path: "/api/v1/extractions", Summary: "List stored extractions, newest first", Tags: []string{"Canvas"}},
		func(ctx context.Context, input *listInput) (*listOutput, error) {
			list, err := svc.ListExtractions(ctx, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Extractions = list
			return out, nil
		})

	type getInput struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{OperationID: "get-extraction", Method: http.MethodGet, Path: "/api/v1/extractions/{id}", Summary: "Get one extraction with its canvases", Tags: []string{"Canvas"}},
		func(ctx context.Context, input *getInput) (*extractionOutput, error) {
			ext, err := svc.GetExtraction(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &extractionOutput{Body: ext}, nil
		})
}
