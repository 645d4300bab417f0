package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/idlocator/internal/cdpcontrol"
	"github.com/dgnsrekt/idlocator/internal/controller"
	"github.com/dgnsrekt/idlocator/internal/settings"
	"github.com/dgnsrekt/idlocator/internal/tabstate"
)

const indicatorStreamPath = "/api/v1/indicator/stream"

type Service interface {
	ListTabs(ctx context.Context) ([]controller.TabView, error)
	GetTab(ctx context.Context, tabID string) (controller.TabView, error)
	Toggle(ctx context.Context, tabID string) (controller.ToggleResult, error)
	Cancel(ctx context.Context, tabID string) error
	Focus(ctx context.Context, tabID string) (tabstate.Indicator, error)
	GetSettings() settings.Settings
	UpdateSettings(next settings.Settings) (settings.Settings, error)
}

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"CDP target ID of the page tab"`
}

// NewServer builds the control API. stream serves the indicator SSE feed and
// may be nil.
func NewServer(svc Service, stream http.Handler) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("idlocator Control API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if stream != nil {
		router.Method(http.MethodGet, indicatorStreamPath, stream)
	}

	registerHealthHandlers(api)
	registerTabHandlers(api, svc)
	registerSettingsHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
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
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
