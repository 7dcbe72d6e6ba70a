package models

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/page"
	"github.com/arenabridge/agent/internal/shared/faults"
	"github.com/arenabridge/agent/internal/shared/types"
)

// Service owns the capability registry: extraction from page content, seeded
// fallback, and lookups for warmup. Pushing the result over the channel is
// the router's business; the registry itself always replaces wholesale.
type Service struct {
	session  *page.Session
	fallback types.Registry
	metrics  *monitoring.Metrics
	log      *logging.Logger

	mu      sync.RWMutex
	current types.Registry
}

func NewService(session *page.Session, fallback types.Registry, metrics *monitoring.Metrics, log *logging.Logger) *Service {
	return &Service{
		session:  session,
		fallback: fallback,
		metrics:  metrics,
		log:      log.Component("models"),
	}
}

// Refresh extracts the registry from the current page document. A page that
// yields nothing falls back to the seeds; an empty result is an error so a
// bad page can never wipe the orchestrator's registry.
func (s *Service) Refresh(ctx context.Context) (types.Registry, error) {
	html, err := s.session.HTML(ctx)
	if err != nil {
		s.log.Warn("page unavailable for registry extraction", zap.Error(err))
	}

	registry := Extract(html)
	if len(registry) == 0 {
		if len(s.fallback) == 0 {
			return nil, faults.New(faults.ParseFailure, "no models in page content and no fallback seeds")
		}
		s.log.Warn("no models in page content, using fallback seeds",
			zap.Int("seeds", len(s.fallback)))
		registry = s.fallback
	}

	s.mu.Lock()
	s.current = registry
	s.mu.Unlock()

	s.metrics.SetRegistryModels(len(registry))
	s.log.Info("capability registry refreshed", zap.Int("models", len(registry)))
	return registry, nil
}

// Current returns the last refreshed registry without touching the page.
// Nil until the first successful Refresh.
func (s *Service) Current() types.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Lookup resolves a model by public name, refreshing once on a miss since
// the page may have rotated entries since the last sync.
func (s *Service) Lookup(ctx context.Context, publicName string) (types.Model, bool) {
	s.mu.RLock()
	model, ok := s.current[publicName]
	s.mu.RUnlock()
	if ok {
		return model, true
	}

	if _, err := s.Refresh(ctx); err != nil {
		return types.Model{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	model, ok = s.current[publicName]
	return model, ok
}
