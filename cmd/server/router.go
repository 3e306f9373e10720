package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"

	"github.com/tendant/course-materials/pkg/materials/api"
)

// newRouter mounts the material API under /api/v1. A non-empty apiKeySHA256
// requires callers to present the matching API key.
func newRouter(handler *api.MaterialHandler, apiKeySHA256 string) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	var apiKeyMiddleware func(http.Handler) http.Handler
	if apiKeySHA256 != "" {
		mw, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{"materials": apiKeySHA256},
		})
		if err != nil {
			return nil, err
		}
		apiKeyMiddleware = mw
	}

	r.Route("/api/v1", func(r chi.Router) {
		if apiKeyMiddleware != nil {
			r.Use(apiKeyMiddleware)
		}
		r.Mount("/", handler.Routes())
	})
	return r, nil
}
