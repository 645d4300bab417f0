package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/idlocator/internal/controller"
	"github.com/dgnsrekt/idlocator/internal/tabstate"
)

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []controller.TabView `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List page tabs with overlay state", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type tabOutput struct {
		Body controller.TabView
	}
	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}", Summary: "Get one tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			tab, err := svc.GetTab(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabOutput{Body: tab}, nil
		})

	type toggleOutput struct {
		Body controller.ToggleResult
	}
	huma.Register(api, huma.Operation{OperationID: "toggle-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/toggle", Summary: "Toggle the locator overlay", Description: "Ignored while a lookup is in flight; the response reports ignored=true.", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*toggleOutput, error) {
			res, err := svc.Toggle(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &toggleOutput{Body: res}, nil
		})

	type statusOutput struct {
		Body struct {
			TabID  string `json:"tab_id"`
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "cancel-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/cancel", Summary: "Back out of an active selection", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*statusOutput, error) {
			if err := svc.Cancel(ctx, input.TabID); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.TabID = input.TabID
			out.Body.Status = "canceled"
			return out, nil
		})

	type indicatorOutput struct {
		Body tabstate.Indicator
	}
	huma.Register(api, huma.Operation{OperationID: "focus-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/focus", Summary: "Report the tab as focused and republish its indicator", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*indicatorOutput, error) {
			ind, err := svc.Focus(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &indicatorOutput{Body: ind}, nil
		})
}
