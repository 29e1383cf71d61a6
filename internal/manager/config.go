package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"modelpilot/internal/catalog"
	"modelpilot/internal/provider"
	"modelpilot/internal/resource"
)

const (
	defaultLoadTimeout   = 10 * time.Minute
	defaultUnloadTimeout = 30 * time.Second
)

// Catalog is the subset of *catalog.Catalog the manager reads.
type Catalog interface {
	Get(id string) (catalog.ModelDescriptor, error)
	List() []catalog.ModelDescriptor
	ListCandidates(m catalog.Modality, hasGPU bool) []catalog.ModelDescriptor
}

// catalogRefresher is implemented by catalogs that can re-probe providers.
type catalogRefresher interface {
	LoadCached() (bool, error)
	Refresh(ctx context.Context) error
}

// Config wires the manager's collaborators.
type Config struct {
	Catalog  Catalog
	Adapters map[catalog.ProviderKind]provider.Adapter
	Monitor  *resource.Monitor
	// Profiles supplies the GPU flag used for candidate ordering.
	Profiles resource.ProfileSource

	Publisher EventPublisher
	Logger    zerolog.Logger

	// LoadTimeout bounds each provider Load. Default 10m.
	LoadTimeout time.Duration
	// UnloadTimeout bounds each provider Unload. Default 30s.
	UnloadTimeout time.Duration
	// LRUFile stores last-used and observed memory across restarts.
	LRUFile string
	// SkipRefresh disables the catalog refresh in Init.
	SkipRefresh bool

	// Now is injectable for tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = defaultLoadTimeout
	}
	if c.UnloadTimeout <= 0 {
		c.UnloadTimeout = defaultUnloadTimeout
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Adapters == nil {
		c.Adapters = map[catalog.ProviderKind]provider.Adapter{}
	}
	if c.Monitor == nil {
		c.Monitor = resource.NewMonitor(resource.Options{Profiles: c.Profiles, SafetyMarginPercent: 10, Logger: c.Logger})
	}
	if c.Profiles == nil {
		c.Profiles = c.Monitor.Profiles()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
