package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"modelpilot/internal/catalog"
	"modelpilot/internal/provider"
	"modelpilot/internal/resource"
)

// Manager owns the loaded-model cache and the memory accounting behind it.
// Create one per process with New, call Init at start and Shutdown at exit.
type Manager struct {
	mu      sync.Mutex
	state   State
	entries map[string]*entry
	nextGen uint64
	lastErr string

	catalog   Catalog
	adapters  map[catalog.ProviderKind]provider.Adapter
	monitor   *resource.Monitor
	profiles  resource.ProfileSource
	publisher EventPublisher
	log       zerolog.Logger

	loadTimeout   time.Duration
	unloadTimeout time.Duration
	now           func() time.Time

	skipRefresh bool
	lruPath     string
	lruMeta     map[string]lruRecord

	loads, loadFailures, evictions atomic.Uint64
}

func New(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		state:         StateInitializing,
		entries:       make(map[string]*entry),
		catalog:       cfg.Catalog,
		adapters:      cfg.Adapters,
		monitor:       cfg.Monitor,
		profiles:      cfg.Profiles,
		publisher:     cfg.Publisher,
		log:           cfg.Logger,
		loadTimeout:   cfg.LoadTimeout,
		unloadTimeout: cfg.UnloadTimeout,
		now:           cfg.Now,
		skipRefresh:   cfg.SkipRefresh,
		lruPath:       cfg.LRUFile,
		lruMeta:       map[string]lruRecord{},
	}
}

// SetEventPublisher swaps the publisher. Call it before the manager is
// shared. A nil publisher drops events.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

// Init profiles the host, restores LRU metadata and primes the catalog from
// its cache or by probing providers. Provider probe failures are logged;
// the static catalog still serves.
func (m *Manager) Init(ctx context.Context) error {
	prof := m.profiles.Profile(ctx)
	m.log.Info().
		Str("tier", string(prof.Tier)).
		Bool("gpu", prof.HasGPU).
		Str("gpu_kind", string(prof.GPUKind)).
		Uint64("available_ram", prof.AvailableRAMBytes).
		Msg("hardware profiled")
	m.loadLRUMetadata()

	if r, ok := m.catalog.(catalogRefresher); ok && !m.skipRefresh {
		fresh, err := r.LoadCached()
		if err != nil {
			m.log.Warn().Err(err).Msg("catalog cache unreadable")
		}
		if !fresh {
			if err := r.Refresh(ctx); err != nil {
				m.log.Warn().Err(err).Msg("catalog refresh incomplete")
			}
		}
	}

	m.mu.Lock()
	if m.state == StateInitializing {
		m.state = StateReady
	}
	m.mu.Unlock()
	return nil
}

// Shutdown stops new acquisitions, evicts everything and persists LRU
// metadata.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateShuttingDown
	m.mu.Unlock()
	m.saveLRUMetadata()
	return m.EvictAll(ctx)
}

// Ready reports whether Init completed and Shutdown has not begun.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady
}

// Candidates returns catalog models supporting the modality in the order
// Acquire tries them on this host.
func (m *Manager) Candidates(ctx context.Context, modality catalog.Modality) []catalog.ModelDescriptor {
	return m.catalog.ListCandidates(modality, m.profiles.Profile(ctx).HasGPU)
}

// Adapter returns the adapter registered for kind.
func (m *Manager) Adapter(kind catalog.ProviderKind) (provider.Adapter, bool) {
	a, ok := m.adapters[kind]
	return a, ok
}

// Monitor exposes the resource monitor for status reporting.
func (m *Manager) Monitor() *resource.Monitor { return m.monitor }

func (m *Manager) updateGaugesLocked() {
	n := 0
	for _, e := range m.entries {
		if e.state == StateReady {
			n++
		}
	}
	loadedModels.Set(float64(n))
	reservedBytes.Set(float64(m.monitor.InUse()))
}
