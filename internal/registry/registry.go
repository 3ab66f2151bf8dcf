// Package registry holds the in-memory view of monitored markets.
// It is process-wide shared state: many pipeline workers read it, and
// the market refresher replaces its contents atomically on reload.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"polywatch/internal/model"
)

// Registry maps market id (and condition id) to market metadata.
type Registry struct {
	logger *zap.Logger

	mu          sync.RWMutex
	byID        map[string]model.Market
	byCondition map[string]string // condition id -> market id
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:      logger,
		byID:        make(map[string]model.Market),
		byCondition: make(map[string]string),
	}
}

// Replace swaps the full market set in one atomic step. Readers holding
// a market value keep their snapshot; new lookups see the new set.
func (r *Registry) Replace(markets []model.Market) {
	byID := make(map[string]model.Market, len(markets))
	byCondition := make(map[string]string, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
		if m.ConditionID != "" {
			byCondition[m.ConditionID] = m.ID
		}
	}

	r.mu.Lock()
	r.byID = byID
	r.byCondition = byCondition
	r.mu.Unlock()

	r.logger.Info("market registry reloaded", zap.Int("markets", len(markets)))
}

// Get returns the market for id.
func (r *Registry) Get(id string) (model.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	return m, ok
}

// GetByCondition returns the market for a condition id.
func (r *Registry) GetByCondition(conditionID string) (model.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCondition[conditionID]
	if !ok {
		return model.Market{}, false
	}
	m, ok := r.byID[id]
	return m, ok
}

// ConditionIDs lists the condition ids of every analyzable market,
// for feed subscriptions and batched trade polling.
func (r *Registry) ConditionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byCondition))
	for cond, id := range r.byCondition {
		if m, ok := r.byID[id]; ok && m.Analyzable() {
			out = append(out, cond)
		}
	}
	return out
}

// Len reports how many markets are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
