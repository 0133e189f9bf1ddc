package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/CivicSim/CS-Gateway/internal/scenario"
	"github.com/CivicSim/CS-Gateway/internal/session"
)

// Manager lazily creates one session engine per session id and keeps it
// running for the life of the process. Sessions are cheap (a goroutine and
// some state), so there is no eviction; a restart clears them, which
// matches the product's "session state does not survive reloads" contract.
type Manager struct {
	ctx     context.Context
	scn     *scenario.Scenario
	backend session.Backend
	store   session.Store

	// PollInterval overrides the engines' job polling period when non-zero.
	PollInterval time.Duration

	mu      sync.Mutex
	engines map[string]*session.Engine
}

func NewManager(ctx context.Context, scn *scenario.Scenario, b session.Backend, st session.Store) *Manager {
	return &Manager{
		ctx:     ctx,
		scn:     scn,
		backend: b,
		store:   st,
		engines: map[string]*session.Engine{},
	}
}

// Engine returns the engine for a session, starting one if needed.
func (m *Manager) Engine(sessionID string) *session.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[sessionID]; ok {
		return eng
	}
	eng := session.New(sessionID, m.scn, m.backend, m.store)
	if m.PollInterval > 0 {
		eng.PollInterval = m.PollInterval
	}
	m.engines[sessionID] = eng
	go eng.Run(m.ctx)
	return eng
}
