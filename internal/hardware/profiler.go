package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelpilot/internal/common/fsutil"
)

// Options configures a Profiler.
type Options struct {
	Thresholds Thresholds
	// DiskPath is measured for free space, usually the model cache dir.
	DiskPath string
	// GPUOverride forces a GPU kind ("none", "cuda", "mps", "directml").
	// Empty or "auto" detects.
	GPUOverride string
	Probes      Probes
	Logger      zerolog.Logger
	// ProbeTimeout bounds each probe. Default 5s.
	ProbeTimeout time.Duration
}

// Profiler produces and caches Profiles. Detection never fails: a probe
// error degrades to the conservative value.
type Profiler struct {
	mu     sync.RWMutex
	opts   Options
	probes Probes
	cur    *Profile
}

func NewProfiler(opts Options) *Profiler {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.DiskPath == "" {
		opts.DiskPath = "/"
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Profiler{opts: opts, probes: opts.Probes.withHostDefaults()}
}

// Profile returns the cached snapshot, profiling on first use.
func (p *Profiler) Profile(ctx context.Context) Profile {
	p.mu.RLock()
	cur := p.cur
	p.mu.RUnlock()
	if cur != nil {
		return *cur
	}
	return p.Refresh(ctx)
}

// Refresh recomputes the snapshot and caches it.
func (p *Profiler) Refresh(ctx context.Context) Profile {
	prof := p.detect(ctx)
	p.mu.Lock()
	p.cur = &prof
	p.mu.Unlock()
	return prof
}

// Current is Profile without a caller context.
func (p *Profiler) Current() Profile { return p.Profile(context.Background()) }

// Thresholds returns the configured tier thresholds.
func (p *Profiler) Thresholds() Thresholds { return p.opts.Thresholds }

func (p *Profiler) detect(ctx context.Context) Profile {
	log := p.opts.Logger
	prof := Profile{GPUKind: GPUNone, ProfiledAt: time.Now()}

	pctx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	total, avail, err := p.probes.Memory(pctx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("memory probe failed; assuming no capacity")
		prof.Degraded = append(prof.Degraded, "memory")
	} else {
		prof.TotalRAMBytes, prof.AvailableRAMBytes = total, avail
	}

	diskPath := p.opts.DiskPath
	if exp, err := fsutil.ExpandHome(diskPath); err == nil {
		diskPath = exp
	}
	pctx, cancel = context.WithTimeout(ctx, p.opts.ProbeTimeout)
	free, err := p.probes.Disk(pctx, diskPath)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("path", diskPath).Msg("disk probe failed")
		prof.Degraded = append(prof.Degraded, "disk")
	} else {
		prof.DiskFreeBytes = free
	}

	pctx, cancel = context.WithTimeout(ctx, p.opts.ProbeTimeout)
	cores, err := p.probes.CPU(pctx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("cpu probe failed")
		prof.Degraded = append(prof.Degraded, "cpu")
	}
	if cores <= 0 {
		cores = 1
	}
	prof.CPUCores = cores

	switch o := GPUKind(p.opts.GPUOverride); o {
	case "", "auto":
		pctx, cancel = context.WithTimeout(ctx, p.opts.ProbeTimeout)
		info, err := p.probes.GPU(pctx)
		cancel()
		if err != nil {
			log.Debug().Err(err).Msg("gpu probe failed; assuming none")
			prof.Degraded = append(prof.Degraded, "gpu")
		} else if info.Kind != "" && info.Kind != GPUNone {
			prof.HasGPU = true
			prof.GPUKind = info.Kind
			prof.GPUName = info.Name
			prof.VRAMBytes = info.VRAMBytes
		}
	case GPUNone:
	default:
		prof.HasGPU = true
		prof.GPUKind = o
	}

	prof.Tier = ClassifyTier(prof.HasGPU, prof.AvailableRAMBytes, p.opts.Thresholds)
	log.Debug().
		Str("tier", string(prof.Tier)).
		Str("gpu", string(prof.GPUKind)).
		Uint64("avail_ram", prof.AvailableRAMBytes).
		Int("cores", prof.CPUCores).
		Msg("hardware profiled")
	return prof
}
