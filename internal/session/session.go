package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schoolattend/internal/model"
)

var (
	ErrNoSession    = errors.New("session: not logged in")
	ErrUnknownActor = errors.New("session: actor not found")
	ErrMissingActor = errors.New("session: actor id required")
)

// ActorResolver loads the actor context for an id; nil means unknown.
type ActorResolver interface {
	GetActorContext(ctx context.Context, actorID string) (*model.ActorContext, error)
}

// Session is the authenticated scanning context, created at login.
type Session struct {
	Actor     model.ActorContext
	StartedAt time.Time
}

// Manager owns the current session of one device.
type Manager struct {
	resolver ActorResolver
	mu       sync.RWMutex
	current  *Session
}

func NewManager(resolver ActorResolver) *Manager {
	return &Manager{resolver: resolver}
}

// Login resolves the actor and replaces any existing session.
func (m *Manager) Login(ctx context.Context, actorID string) (Session, error) {
	if actorID == "" {
		return Session{}, ErrMissingActor
	}
	actor, err := m.resolver.GetActorContext(ctx, actorID)
	if err != nil {
		return Session{}, fmt.Errorf("resolve actor: %w", err)
	}
	if actor == nil {
		return Session{}, ErrUnknownActor
	}
	s := &Session{Actor: *actor, StartedAt: time.Now()}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return *s, nil
}

// Logout ends the current session.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Current returns a copy of the active session.
func (m *Manager) Current() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, ErrNoSession
	}
	return *m.current, nil
}
