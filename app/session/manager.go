package session

import (
	"context"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Stage is the initialization stage of a session, each transition runs
// exactly once per process life and only moves forward.
type Stage int

// session lifecycle stages
const (
	StageUninitialized Stage = iota
	StageIdentityLoaded
	StageStateLoaded
	StageReconciled
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "uninitialized"
	case StageIdentityLoaded:
		return "identity_loaded"
	case StageStateLoaded:
		return "state_loaded"
	case StageReconciled:
		return "reconciled"
	case StageReady:
		return "ready"
	}
	return "unknown"
}

// Manager orchestrates session startup: load identity, load persisted
// registry and history, reconcile leftovers, then hand the state to the rest
// of the application. Any stage that hits broken storage degrades to empty
// state instead of aborting, availability wins over strict recovery.
type Manager struct {
	Store      Store
	Registry   *Registry
	History    *Ledger
	Reconciler *Reconciler

	mu       sync.Mutex
	stage    Stage
	clientID string
}

// Initialize runs the startup sequence. Calling it again after it completed
// is a no-op.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage == StageReady {
		return
	}

	m.clientID = LoadClientID(m.Store)
	m.stage = StageIdentityLoaded

	m.Registry.Load()
	m.History.Load()
	m.stage = StageStateLoaded

	m.Reconciler.Run(ctx)
	m.stage = StageReconciled

	m.stage = StageReady
	log.Printf("[INFO] session ready, client=%s, %d active job(s), %d history entr(ies)",
		m.clientID, len(m.Registry.List()), len(m.History.Get()))
}

// Stage returns the current lifecycle stage.
func (m *Manager) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// ClientID returns the stable client identifier, empty before Initialize.
func (m *Manager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

func timeNow() int64 { return time.Now().Unix() }
