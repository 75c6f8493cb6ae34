package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/courriel-systems/messagerie/internal/handlers"
)

// NewRouter constructs a ServeMux with the read API and the health and
// metrics endpoints registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/conversations/{id}", h.GetConversation)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", h.ListMessages)
	mux.HandleFunc("GET /api/v1/messages/{id}", h.GetMessage)
	mux.HandleFunc("GET /api/v1/contacts/{id}", h.GetContact)
	mux.HandleFunc("GET /api/v1/profiles/{id}", h.GetProfile)
	mux.HandleFunc("GET /api/v1/dlq/stats", h.DLQStats)
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
