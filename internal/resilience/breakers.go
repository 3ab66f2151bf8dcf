// Package resilience wraps the outbound-call protections shared by the
// data-source clients: named circuit breakers and a bounded retry helper.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when a breaker is open and the call was
// short-circuited without a network attempt.
var ErrUnavailable = errors.New("endpoint unavailable: circuit breaker open")

// BreakerSettings tune every breaker the manager hands out.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold uint32

	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe.
	Cooldown time.Duration

	// MaxHalfOpenRequests limits probes while half-open.
	MaxHalfOpenRequests uint32
}

// DefaultBreakerSettings matches the documented state machine: trip
// after 5 consecutive failures, probe after 30s, one probe at a time.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold:    5,
		Cooldown:            30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// BreakerManager owns one circuit breaker per named endpoint. Breakers
// are created lazily on first use and live for the process lifetime.
type BreakerManager struct {
	logger   *zap.Logger
	settings BreakerSettings

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerManager creates a manager with the given settings.
func NewBreakerManager(logger *zap.Logger, settings BreakerSettings) *BreakerManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.FailureThreshold == 0 {
		settings = DefaultBreakerSettings()
	}
	return &BreakerManager{
		logger:   logger,
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it if needed.
func (m *BreakerManager) Get(name string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	threshold := m.settings.FailureThreshold
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: m.settings.MaxHalfOpenRequests,
		Timeout:     m.settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("circuit breaker state change",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	m.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker. An open breaker returns
// ErrUnavailable without invoking fn.
func (m *BreakerManager) Execute(name string, fn func() (any, error)) (any, error) {
	out, err := m.Get(name).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return out, err
}

// State reports the named breaker's current state ("closed", "open",
// "half-open"). Unknown names report closed.
func (m *BreakerManager) State(name string) string {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// States snapshots every known breaker's state for health reporting.
func (m *BreakerManager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.State().String()
	}
	return out
}
