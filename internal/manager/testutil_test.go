package manager

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modelpilot/internal/catalog"
	"modelpilot/internal/hardware"
	"modelpilot/internal/provider"
	"modelpilot/internal/resource"
)

const (
	mib = uint64(1) << 20
	gib = uint64(1) << 30
)

// fakeAdapter is an in-memory provider. Loads block on gate when it is set.
type fakeAdapter struct {
	kind catalog.ProviderKind

	mu        sync.Mutex
	loads     map[string]int
	unloads   map[string]int
	tokenless int
	loadErr   map[string]error
	actual    map[string]uint64
	gate      chan struct{}
	started   chan string
	inferErr  error
}

func newFakeAdapter(kind catalog.ProviderKind) *fakeAdapter {
	return &fakeAdapter{
		kind:    kind,
		loads:   map[string]int{},
		unloads: map[string]int{},
		loadErr: map[string]error{},
		actual:  map[string]uint64{},
	}
}

func (f *fakeAdapter) Kind() catalog.ProviderKind               { return f.kind }
func (f *fakeAdapter) IsAvailable(context.Context, string) bool { return true }
func (f *fakeAdapter) EstimateMemoryBytes(string) uint64        { return gib }
func (f *fakeAdapter) Discover(context.Context) ([]catalog.ModelDescriptor, error) {
	return nil, nil
}

func (f *fakeAdapter) Load(ctx context.Context, ref string, sink provider.ProgressSink) (provider.Handle, error) {
	f.mu.Lock()
	f.loads[ref]++
	err := f.loadErr[ref]
	gate, started := f.gate, f.started
	actual := f.actual[ref]
	f.mu.Unlock()

	if started != nil {
		started <- ref
	}
	if sink != nil {
		sink.Progress(provider.Progress{Ref: ref, Status: "pulling", Completed: 1, Total: 2})
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return provider.Handle{}, ctx.Err()
		}
	}
	if err != nil {
		return provider.Handle{}, err
	}
	return provider.Handle{Provider: f.kind, Ref: ref, Token: ref, ActualMemoryBytes: actual, LoadedAt: time.Now()}, nil
}

func (f *fakeAdapter) Unload(_ context.Context, h provider.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads[h.Ref]++
	if h.Token == "" {
		f.tokenless++
	}
	return nil
}

func (f *fakeAdapter) Infer(_ context.Context, h provider.Handle, req provider.InferRequest) (provider.InferResponse, error) {
	if f.inferErr != nil {
		return provider.InferResponse{}, f.inferErr
	}
	return provider.InferResponse{Text: "ok:" + h.Ref + ":" + req.Prompt, Model: h.Ref}, nil
}

func (f *fakeAdapter) loadCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[ref]
}

func (f *fakeAdapter) unloadCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads[ref]
}

func (f *fakeAdapter) setErr(ref string, err error) {
	f.mu.Lock()
	f.loadErr[ref] = err
	f.mu.Unlock()
}

func desc(id string, p catalog.ProviderKind, mem uint64, gpu bool, caps ...catalog.Modality) catalog.ModelDescriptor {
	return catalog.ModelDescriptor{
		ID:                     id,
		Provider:               p,
		Ref:                    strings.TrimPrefix(id, string(p)+"/"),
		Capabilities:           caps,
		MinRequiredMemoryBytes: mem,
		RecommendedGPU:         gpu,
	}
}

// fakeClock advances one second per reading so LRU order is deterministic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	m      *Manager
	ollama *fakeAdapter
	hf     *fakeAdapter
	pub    *MemoryPublisher
	mon    *resource.Monitor
	avail  uint64
	margin uint64
}

type envOpts struct {
	avail, margin uint64
	gpu           bool
	loadTimeout   time.Duration
	lruFile       string
}

func newEnv(t *testing.T, o envOpts, seeds ...catalog.ModelDescriptor) *testEnv {
	t.Helper()
	cat, err := catalog.New(seeds, catalog.Options{})
	require.NoError(t, err)
	mon := resource.NewMonitor(resource.Options{
		Profiles:          resource.StaticProfile(hardware.Profile{HasGPU: o.gpu, TotalRAMBytes: 2 * o.avail, AvailableRAMBytes: o.avail}),
		SafetyMarginBytes: o.margin,
	})
	if o.loadTimeout == 0 {
		o.loadTimeout = 5 * time.Second
	}
	env := &testEnv{
		ollama: newFakeAdapter(catalog.ProviderOllama),
		hf:     newFakeAdapter(catalog.ProviderHuggingFace),
		pub:    NewMemoryPublisher(),
		mon:    mon,
		avail:  o.avail,
		margin: o.margin,
	}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	env.m = New(Config{
		Catalog: cat,
		Adapters: map[catalog.ProviderKind]provider.Adapter{
			catalog.ProviderOllama:      env.ollama,
			catalog.ProviderHuggingFace: env.hf,
		},
		Monitor:       mon,
		Publisher:     env.pub,
		LoadTimeout:   o.loadTimeout,
		UnloadTimeout: time.Second,
		LRUFile:       o.lruFile,
		SkipRefresh:   true,
		Now:           clock.now,
	})
	require.NoError(t, env.m.Init(context.Background()))
	return env
}

// budgetHolds reports whether reservations plus margin fit the baseline.
func (e *testEnv) budgetHolds() bool {
	return e.mon.InUse()+e.margin <= e.avail
}
