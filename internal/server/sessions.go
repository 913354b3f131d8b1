package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/metrics"
	"github.com/viflex/platescan/internal/observability"
	"github.com/viflex/platescan/internal/workflow"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the registry is full.
	ErrTooManySessions = errors.New("too many active sessions")
)

// Session is one API client's workflow.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Controller *workflow.Controller

	lastSeen time.Time
}

// ControllerFactory builds the controller for a new session.
type ControllerFactory func() *workflow.Controller

// Registry holds live sessions. Sessions idle for longer than the TTL are
// dropped on access and by Sweep.
type Registry struct {
	factory ControllerFactory
	max     int
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry. max <= 0 means unlimited and
// ttl <= 0 disables expiry.
func NewRegistry(factory ControllerFactory, max int, ttl time.Duration) *Registry {
	return &Registry{
		factory:  factory,
		max:      max,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session in the no_image phase.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	expired := r.sweepLocked()
	if r.max > 0 && len(r.sessions) >= r.max {
		r.mu.Unlock()
		metrics.RecordSessionsExpired(expired)
		return nil, ErrTooManySessions
	}

	now := r.now()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now.UTC(),
		Controller: r.factory(),
		lastSeen:   now,
	}
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.RecordSessionsExpired(expired)
	metrics.SetActiveSessions(count)
	return s, nil
}

// Get returns a live session and marks it as used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := r.now()
	if r.expired(s, now) {
		delete(r.sessions, id)
		return nil, ErrSessionNotFound
	}
	s.lastSeen = now
	return s, nil
}

// Delete removes a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	metrics.SetActiveSessions(count)
	return nil
}

// Len returns the number of sessions held, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops expired sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	removed := r.sweepLocked()
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.RecordSessionsExpired(removed)
	metrics.SetActiveSessions(count)
	return removed
}

// Run sweeps every half TTL until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 && observability.ServerLogger != nil {
				observability.ServerLogger.Debug("Expired idle sessions", zap.Int("removed", removed))
			}
		}
	}
}

func (r *Registry) sweepLocked() int {
	if r.ttl <= 0 {
		return 0
	}
	now := r.now()
	removed := 0
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	if r.ttl <= 0 {
		return false
	}
	// A running analysis keeps its session alive.
	if s.Controller.Phase() == workflow.PhaseAnalyzing {
		return false
	}
	return now.Sub(s.lastSeen) > r.ttl
}
