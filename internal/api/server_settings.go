package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/idlocator/internal/settings"
)

func registerSettingsHandlers(api huma.API, svc Service) {
	type settingsOutput struct {
		Body settings.Settings
	}

	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Get locator settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			return &settingsOutput{Body: svc.GetSettings()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "put-settings", Method: http.MethodPut, Path: "/api/v1/settings", Summary: "Replace locator settings", Description: "Applies from the next activation. Patterns use ECMAScript syntax.", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct {
			Body struct {
				PreferredEditor string   `json:"preferredEditor,omitempty" doc:"Editor scheme, e.g. vscode or cursor"`
				RegexPatterns   []string `json:"regexPatterns,omitempty" doc:"Exclusion patterns, matched against the whole identifier"`
				CombineRegex    []string `json:"combineRegex,omitempty" doc:"Grouping patterns in priority order"`
				FileTypes       []string `json:"fileTypes,omitempty" doc:"File extensions sent to the resolution service"`
			}
		}) (*settingsOutput, error) {
			saved, err := svc.UpdateSettings(settings.Settings{
				PreferredEditor: input.Body.PreferredEditor,
				RegexPatterns:   input.Body.RegexPatterns,
				CombineRegex:    input.Body.CombineRegex,
				FileTypes:       input.Body.FileTypes,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: saved}, nil
		})
}
