package authority

import (
	"context"
	"sync"

	"github.com/collabtext/sync/internal/baseline"
	"github.com/collabtext/sync/internal/broadcast"
	"github.com/collabtext/sync/internal/config"
	"github.com/collabtext/sync/internal/oplog"
	"github.com/collabtext/sync/internal/registry"
)

// Stores is the set of per-library storage backends a Manager needs to
// open a Library the first time it's addressed. Different libraries are
// independent and run in parallel, so Open is called lazily, once per
// library name, the first time a connection references it.
type Stores interface {
	OpenOperationLog(library string) oplog.Log
	OpenBaselineStore(library string) baseline.Store
	OpenRegistry(library string) registry.Registry
	// OpenCompactor opens the atomic baseline+log compactor used by
	// runRebasePass.
	OpenCompactor(library string) oplog.Compactor
	// OpenStep2Committer opens the atomic baseline+ops+ack committer used
	// by HandleSyncStep2.
	OpenStep2Committer(library string) Step2Committer
}

// Manager looks up or lazily creates the Library for each name, and owns
// the goroutine running each one.
type Manager struct {
	mu        sync.Mutex
	libraries map[string]*Library
	stores    Stores
	cfg       *config.AuthorityConfig
	bus       *broadcast.Bus
}

func NewManager(stores Stores, cfg *config.AuthorityConfig, bus *broadcast.Bus) *Manager {
	return &Manager{libraries: make(map[string]*Library), stores: stores, cfg: cfg, bus: bus}
}

// Get returns the Library for name, creating and starting it if this is
// the first reference.
func (m *Manager) Get(ctx context.Context, name string) *Library {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lib, ok := m.libraries[name]; ok {
		return lib
	}

	lib := NewLibrary(name,
		m.stores.OpenOperationLog(name),
		m.stores.OpenBaselineStore(name),
		m.stores.OpenRegistry(name),
		m.stores.OpenCompactor(name),
		m.stores.OpenStep2Committer(name),
		m.cfg, m.bus)
	m.libraries[name] = lib
	go lib.Run(ctx)
	return lib
}
