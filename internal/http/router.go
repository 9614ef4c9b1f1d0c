package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai-speech-stream-service/internal/api/ws"
	"ai-speech-stream-service/internal/app"
	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/service/session"
)

// engineInfo describes one engine on GET /v1/engines.
type engineInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	stream := ws.NewHandler(application.Sessions, application.Factory, ws.Config{})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Handle("/stream", stream)

		r.Get("/engines", func(w http.ResponseWriter, _ *http.Request) {
			var out []engineInfo
			for _, kind := range models.EngineKinds() {
				info := engineInfo{Name: kind.String(), Available: true}
				if err := application.Factory.Available(kind); err != nil {
					info.Available = false
					info.Reason = err.Error()
				}
				out = append(out, info)
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, application.Sessions.ListActive())
		})
		r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			summary, err := application.Sessions.Summary(chi.URLParam(r, "id"))
			if errors.Is(err, session.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, summary)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
