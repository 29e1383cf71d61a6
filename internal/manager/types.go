package manager

import (
	"time"

	"modelpilot/internal/catalog"
	"modelpilot/internal/provider"
)

// State represents lifecycle state of the manager and its entries.
type State string

const (
	StateInitializing State = "initializing"
	StateLoading      State = "loading"
	StateReady        State = "ready"
	StateShuttingDown State = "shutting_down"
)

// AcquireRequest names the capability needed and optionally a model to try
// first.
type AcquireRequest struct {
	Capability       catalog.Modality
	PreferredModelID string
	// Progress receives load progress when this call performs the load.
	Progress provider.ProgressSink
}

// Handle is a reference to a loaded model. Every Handle returned by Acquire
// must be passed to Release exactly once.
type Handle struct {
	Descriptor           catalog.ModelDescriptor
	Provider             provider.Handle
	LoadedAt             time.Time
	LastUsed             time.Time
	EstimatedMemoryBytes uint64

	gen uint64
}

// ModelID is shorthand for h.Descriptor.ID.
func (h Handle) ModelID() string { return h.Descriptor.ID }

// entry is the cache slot for one model id. A loading entry is a
// placeholder: done is closed when the load finishes and err is set on
// failure.
type entry struct {
	desc     catalog.ModelDescriptor
	state    State
	handle   provider.Handle
	gen      uint64
	refs     int
	loadedAt time.Time
	lastUsed time.Time
	estimate uint64
	actual   uint64
	progress provider.Progress

	done chan struct{}
	err  error
}

func (e *entry) handleLocked() Handle {
	return Handle{
		Descriptor:           e.desc,
		Provider:             e.handle,
		LoadedAt:             e.loadedAt,
		LastUsed:             e.lastUsed,
		EstimatedMemoryBytes: e.estimate,
		gen:                  e.gen,
	}
}

// idle reports whether the entry may be evicted.
func (e *entry) idle() bool { return e.state == StateReady && e.refs == 0 }
