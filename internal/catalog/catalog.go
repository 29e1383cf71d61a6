package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelpilot/internal/config"
)

// Discoverer lists models available locally from one provider.
type Discoverer interface {
	Kind() ProviderKind
	Discover(ctx context.Context) ([]ModelDescriptor, error)
}

// Options configures a Catalog.
type Options struct {
	Store       Store
	Discoverers []Discoverer
	// CacheTTL is how long persisted discoveries are trusted on startup.
	CacheTTL time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Catalog merges static seeds with discovered entries. Ordering for
// selection lives here; the selection policy does not.
type Catalog struct {
	mu         sync.RWMutex
	seeds      []ModelDescriptor
	discovered map[string]ModelDescriptor
	// seq is the insertion order of every id ever seen, used for ties.
	seq     map[string]int
	nextSeq int

	store       Store
	discoverers []Discoverer
	cacheTTL    time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// New validates seeds and builds a catalog. Duplicate ids are a
// configuration error.
func New(seeds []ModelDescriptor, opts Options) (*Catalog, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Catalog{
		discovered:  make(map[string]ModelDescriptor),
		seq:         make(map[string]int),
		store:       opts.Store,
		discoverers: opts.Discoverers,
		cacheTTL:    opts.CacheTTL,
		log:         opts.Logger,
		now:         opts.Now,
	}
	if err := c.ReplaceSeeds(seeds); err != nil {
		return nil, err
	}
	return c, nil
}

// ReplaceSeeds swaps the static entries. Ids are normalised to
// "<provider>/<name>"; insertion order of ids already known is kept.
func (c *Catalog) ReplaceSeeds(seeds []ModelDescriptor) error {
	seen := make(map[string]struct{}, len(seeds))
	out := make([]ModelDescriptor, 0, len(seeds))
	for _, d := range seeds {
		d.ID = normalizeID(d.Provider, d.ID, d.Ref)
		if err := checkDescriptor(d); err != nil {
			return err
		}
		if _, dup := seen[d.ID]; dup {
			return config.ErrConfiguration("catalog", "duplicate model id "+d.ID)
		}
		seen[d.ID] = struct{}{}
		d.Source = SourceSeed
		out = append(out, d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeds = out
	for _, d := range out {
		c.assignSeqLocked(d.ID)
	}
	return nil
}

func checkDescriptor(d ModelDescriptor) error {
	switch {
	case d.ID == "":
		return config.ErrConfiguration("catalog", "model id is empty")
	case d.Provider != ProviderOllama && d.Provider != ProviderHuggingFace:
		return config.ErrConfiguration("catalog", fmt.Sprintf("model %s: unknown provider %q", d.ID, d.Provider))
	case d.Ref == "":
		return config.ErrConfiguration("catalog", "model "+d.ID+": empty provider ref")
	case len(d.Capabilities) == 0:
		return config.ErrConfiguration("catalog", "model "+d.ID+": no capabilities")
	}
	return nil
}

func (c *Catalog) assignSeqLocked(id string) {
	if _, ok := c.seq[id]; !ok {
		c.seq[id] = c.nextSeq
		c.nextSeq++
	}
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (ModelDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.seeds {
		if d.ID == id {
			return d, nil
		}
	}
	if d, ok := c.discovered[id]; ok {
		return d, nil
	}
	return ModelDescriptor{}, ErrNotFound(id)
}

// List returns every entry in insertion order. Seeds shadow discoveries
// with the same id.
func (c *Catalog) List() []ModelDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mergedLocked()
}

func (c *Catalog) mergedLocked() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(c.seeds)+len(c.discovered))
	seeded := make(map[string]struct{}, len(c.seeds))
	for _, d := range c.seeds {
		if disc, ok := c.discovered[d.ID]; ok {
			d.LastSeen = disc.LastSeen
		}
		seeded[d.ID] = struct{}{}
		out = append(out, d)
	}
	for id, d := range c.discovered {
		if _, ok := seeded[id]; !ok {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return c.seq[out[i].ID] < c.seq[out[j].ID] })
	return out
}

// ListCandidates filters by capability and orders best-first: entries whose
// GPU recommendation matches hasGPU, then larger memory requirement first so
// fallback proceeds towards cheaper models, then insertion order.
func (c *Catalog) ListCandidates(m Modality, hasGPU bool) []ModelDescriptor {
	c.mu.RLock()
	all := c.mergedLocked()
	c.mu.RUnlock()

	out := all[:0]
	for _, d := range all {
		if d.Supports(m) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		gi, gj := out[i].RecommendedGPU == hasGPU, out[j].RecommendedGPU == hasGPU
		if gi != gj {
			return gi
		}
		return out[i].MinRequiredMemoryBytes > out[j].MinRequiredMemoryBytes
	})
	return out
}

// Refresh queries every discoverer and merges the results. A provider whose
// discovery fails keeps its previous entries; the failure is returned joined
// with any others but does not abort the refresh.
func (c *Catalog) Refresh(ctx context.Context) error {
	now := c.now()
	var errs []error
	fresh := make(map[ProviderKind][]ModelDescriptor)
	for _, d := range c.discoverers {
		found, err := d.Discover(ctx)
		if err != nil {
			c.log.Warn().Err(err).Str("provider", string(d.Kind())).Msg("catalog discovery failed")
			errs = append(errs, fmt.Errorf("discover %s: %w", d.Kind(), err))
			continue
		}
		for i := range found {
			found[i].Source = SourceDiscovered
			found[i].LastSeen = now
			if found[i].Provider == "" {
				found[i].Provider = d.Kind()
			}
			if found[i].ID == "" {
				found[i].ID = QualifiedID(found[i].Provider, found[i].Ref)
			}
		}
		fresh[d.Kind()] = found
	}

	c.mu.Lock()
	for kind, found := range fresh {
		for id, d := range c.discovered {
			if d.Provider == kind {
				delete(c.discovered, id)
			}
		}
		for _, d := range found {
			if checkDescriptor(d) != nil {
				continue
			}
			c.discovered[d.ID] = d
			c.assignSeqLocked(d.ID)
		}
	}
	snapshot := c.discoveredInOrderLocked()
	c.mu.Unlock()

	c.log.Debug().Int("discovered", len(snapshot)).Msg("catalog refreshed")
	if c.store != nil && len(fresh) > 0 {
		if err := c.store.SaveDiscovered(snapshot, now); err != nil {
			errs = append(errs, fmt.Errorf("persist discovered models: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) discoveredInOrderLocked() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(c.discovered))
	for _, d := range c.discovered {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return c.seq[out[i].ID] < c.seq[out[j].ID] })
	return out
}

// LoadCached installs persisted discoveries. It reports whether they are
// recent enough to skip probing providers.
func (c *Catalog) LoadCached() (bool, error) {
	if c.store == nil {
		return false, nil
	}
	entries, refreshedAt, err := c.store.LoadDiscovered()
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	for _, d := range entries {
		if checkDescriptor(d) != nil {
			continue
		}
		d.Source = SourceDiscovered
		c.discovered[d.ID] = d
		c.assignSeqLocked(d.ID)
	}
	c.mu.Unlock()
	fresh := !refreshedAt.IsZero() && c.cacheTTL > 0 && c.now().Sub(refreshedAt) < c.cacheTTL
	c.log.Debug().Int("cached", len(entries)).Bool("fresh", fresh).Msg("catalog cache loaded")
	return fresh, nil
}

// Close releases the backing store.
func (c *Catalog) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
