// Package handlers exposes the read API and the health endpoints.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/courriel-systems/messagerie/internal/httputil"
	"github.com/courriel-systems/messagerie/internal/logging"
	"github.com/courriel-systems/messagerie/internal/model"
	"github.com/courriel-systems/messagerie/internal/query"
)

// Pinger reports connectivity to a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DLQStats reports dead-letter stream counters for operators.
type DLQStats interface {
	Stats(ctx context.Context) map[string]interface{}
}

// QueryService is the read path the HTTP API fronts.
type QueryService interface {
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	GetMessage(ctx context.Context, messageID string) (*model.MessageDoc, error)
	GetContact(ctx context.Context, contactID string) (*model.Contact, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.MessageDoc, error)
}

// Handler serves the HTTP surface: entity reads, health, readiness.
type Handler struct {
	queries QueryService
	store   Pinger
	cache   Pinger
	dlq     DLQStats
	logger  *logging.Logger
}

func NewHandler(queries QueryService, store, cache Pinger, dlq DLQStats, logger *logging.Logger) *Handler {
	return &Handler{
		queries: queries,
		store:   store,
		cache:   cache,
		dlq:     dlq,
		logger:  logger.With(logging.Component("api")),
	}
}

// DLQStats reports dead-letter stream counters.
func (h *Handler) DLQStats(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.dlq.Stats(r.Context()))
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports readiness to serve. The store is load-bearing: if it
// is unreachable the process is not ready. A cache failure only
// degrades, since every read can fall through to the store.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable,
			map[string]string{"status": "not ready", "reason": "store unavailable"})
		return
	}

	status := "ready"
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	h.serveEntity(w, r, func(ctx context.Context, id string) (any, error) {
		return h.queries.GetConversation(ctx, id)
	})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	h.serveEntity(w, r, func(ctx context.Context, id string) (any, error) {
		return h.queries.GetMessage(ctx, id)
	})
}

func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	h.serveEntity(w, r, func(ctx context.Context, id string) (any, error) {
		return h.queries.GetContact(ctx, id)
	})
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	h.serveEntity(w, r, func(ctx context.Context, id string) (any, error) {
		return h.queries.GetProfile(ctx, id)
	})
}

// ListMessages serves the messages of one conversation. Supports a
// ?limit= query parameter, capped server-side.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "missing conversation id")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n < limit {
			limit = n
		}
	}

	msgs, err := h.queries.ListMessages(r.Context(), conversationID, limit)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handler) serveEntity(w http.ResponseWriter, r *http.Request, get func(context.Context, string) (any, error)) {
	id := r.PathValue("id")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "missing id")
		return
	}

	doc, err := get(r.Context(), id)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, query.ErrStoreUnavailable):
		httputil.WriteError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "query failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
