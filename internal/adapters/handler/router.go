package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps groups everything NewRouter mounts
type RouterDeps struct {
	Transcript     *TranscriptHandler
	StartChat      *StartChatHandler
	System         *SystemHandler
	SnapshotStream http.HandlerFunc
	AllowedOrigins string // comma separated, "*" allows any
}

// NewRouter builds the chi router for the backend
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(d.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Amz-Bearer"},
		MaxAge:         300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	r.Handle("/metrics", promhttp.Handler())

	if d.StartChat != nil {
		r.Post("/start-chat", d.StartChat.StartChat)
	}
	if d.System != nil {
		r.Get("/api/system/metrics", d.System.GetSystemMetrics)
	}
	if d.SnapshotStream != nil {
		r.Get("/ws/transcript", d.SnapshotStream)
	}

	if t := d.Transcript; t != nil {
		r.Route("/api/sessions/{id}", func(r chi.Router) {
			r.Post("/", t.Open)
			r.Get("/", t.Get)
			r.Delete("/", t.End)
			r.Post("/events", t.Ingest)
			r.Post("/messages", t.Send)
			r.Post("/messages/{itemId}/retry", t.Retry)
			r.Post("/history", t.LoadPrevious)
			r.Put("/connectivity", t.SetConnectivity)
		})
	}

	return r
}

func splitOrigins(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
