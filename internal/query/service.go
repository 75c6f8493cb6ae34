// Package query serves read-only requests against materialized state.
// Reads go through the cache when possible and never observe pending
// transactions, only committed documents.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/courriel-systems/messagerie/internal/cache"
	"github.com/courriel-systems/messagerie/internal/logging"
	"github.com/courriel-systems/messagerie/internal/metrics"
	"github.com/courriel-systems/messagerie/internal/model"
	"github.com/courriel-systems/messagerie/internal/store"
)

var (
	// ErrNotFound means no entity exists for the requested id.
	ErrNotFound = errors.New("entity not found")

	// ErrStoreUnavailable is surfaced after the single internal
	// reattempt fails; callers receive no partial results.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Service is the query handler ("requetes").
type Service struct {
	store  store.Store
	cache  cache.Cache
	ttl    time.Duration
	logger *logging.Logger
}

// NewService creates a query service. ttl bounds how stale a cached
// entity may be served.
func NewService(s store.Store, c cache.Cache, ttl time.Duration, logger *logging.Logger) *Service {
	if c == nil {
		c = cache.NoOpCache{}
	}
	return &Service{
		store:  s,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(logging.Component("requetes")),
	}
}

// GetEntity returns the materialized document for an entity id,
// consulting the cache first and populating it on a miss.
func (s *Service) GetEntity(ctx context.Context, entityID string) (*model.Document, error) {
	key := "entity:" + entityID

	if data, err := s.cache.Get(ctx, key); err == nil {
		var doc model.Document
		if err := json.Unmarshal(data, &doc); err == nil {
			metrics.CacheHits.Inc()
			metrics.QueriesTotal.WithLabelValues("entity", "hit").Inc()
			return &doc, nil
		}
		// Undecodable cache entry: drop it and fall through.
		_ = s.cache.Del(ctx, key)
	}
	metrics.CacheMisses.Inc()

	doc, err := s.getWithReattempt(ctx, entityID)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrNotFound) {
			outcome = "not_found"
		}
		metrics.QueriesTotal.WithLabelValues("entity", outcome).Inc()
		return nil, err
	}

	if data, err := json.Marshal(doc); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.DebugContext(ctx, "cache populate failed",
				logging.EntityID(entityID), logging.Error(err))
		}
	}

	metrics.QueriesTotal.WithLabelValues("entity", "ok").Inc()
	return doc, nil
}

// GetConversation returns a conversation body by id.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return getTyped[model.Conversation](ctx, s, conversationID, model.KindConversation)
}

// GetMessage returns a message body by id.
func (s *Service) GetMessage(ctx context.Context, messageID string) (*model.MessageDoc, error) {
	return getTyped[model.MessageDoc](ctx, s, messageID, model.KindMessage)
}

// GetContact returns a contact body by id.
func (s *Service) GetContact(ctx context.Context, contactID string) (*model.Contact, error) {
	return getTyped[model.Contact](ctx, s, contactID, model.KindContact)
}

// GetProfile returns a profile body by user id.
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	return getTyped[model.Profile](ctx, s, userID, model.KindProfile)
}

// ListMessages returns messages in a conversation, newest first.
// Listings bypass the cache; they are bounded and served straight from
// committed state.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.MessageDoc, error) {
	docs, err := s.store.ListDocuments(ctx, model.KindMessage, conversationID, limit)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("list_messages", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	msgs := make([]*model.MessageDoc, 0, len(docs))
	for _, doc := range docs {
		var msg model.MessageDoc
		if err := json.Unmarshal(doc.Body, &msg); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable message document",
				logging.EntityID(doc.EntityID), logging.Error(err))
			continue
		}
		if msg.Deleted {
			continue
		}
		msgs = append(msgs, &msg)
	}

	metrics.QueriesTotal.WithLabelValues("list_messages", "ok").Inc()
	return msgs, nil
}

// Invalidate drops cached state for entity ids after their documents
// change.
func (s *Service) Invalidate(ctx context.Context, entityIDs ...string) {
	keys := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		keys = append(keys, "entity:"+id)
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.logger.DebugContext(ctx, "cache invalidation failed", logging.Error(err))
	}
}

func getTyped[T any](ctx context.Context, s *Service, entityID string, kind model.DocumentKind) (*T, error) {
	doc, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if doc.Kind != kind {
		return nil, fmt.Errorf("%w: %s is not a %s", ErrNotFound, entityID, kind)
	}

	out := new(T)
	if err := json.Unmarshal(doc.Body, out); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", kind, err)
	}
	return out, nil
}

// getWithReattempt reads from the store with exactly one internal
// reattempt on connectivity failure.
func (s *Service) getWithReattempt(ctx context.Context, entityID string) (*model.Document, error) {
	doc, err := s.store.GetDocument(ctx, entityID)
	if errors.Is(err, store.ErrUnavailable) {
		doc, err = s.store.GetDocument(ctx, entityID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return doc, nil
}
