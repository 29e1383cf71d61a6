package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"modelpilot/internal/catalog"
	"modelpilot/internal/common/fsutil"
	"modelpilot/internal/config"
	"modelpilot/internal/hardware"
	"modelpilot/internal/manager"
	"modelpilot/internal/pipeline"
	"modelpilot/internal/processor"
	"modelpilot/internal/provider"
	"modelpilot/internal/resource"
)

const mib = 1024 * 1024

// services is the wired object graph shared by serve and process.
type services struct {
	profiler *hardware.Profiler
	catalog  *catalog.Catalog
	monitor  *resource.Monitor
	manager  *manager.Manager
	pipeline *pipeline.Pipeline
}

func newProfiler(c config.Config) *hardware.Profiler {
	return hardware.NewProfiler(hardware.Options{
		Thresholds:  hardware.ThresholdsMB(c.Hardware.HighTierRAMMB, c.Hardware.MediumTierRAMMB),
		DiskPath:    c.Hardware.DiskPath,
		GPUOverride: c.Hardware.GPUKind,
		Logger:      componentLogger("hardware"),
	})
}

func newAdapters(c config.Config) map[catalog.ProviderKind]provider.Adapter {
	policy := provider.RetryPolicy{
		MaxAttempts: c.Manager.MaxLoadAttempts,
		BaseDelay:   c.Manager.RetryBackoff.Std(),
		MaxDelay:    c.Manager.RetryMaxBackoff.Std(),
	}
	out := map[catalog.ProviderKind]provider.Adapter{}
	if !c.Ollama.Disabled {
		l := log.Logger.With().Str("provider", "ollama").Logger()
		a := provider.NewOllamaAdapter(provider.OllamaConfig{
			BaseURL:     c.Ollama.BaseURL,
			Timeout:     c.Ollama.Timeout.Std(),
			TagsTTL:     c.Ollama.TagsTTL.Std(),
			PullMissing: c.Ollama.PullMissing,
			Logger:      l,
		})
		out[catalog.ProviderOllama] = provider.WithRetry(a, policy, l)
	}
	if !c.HuggingFace.Disabled {
		l := log.Logger.With().Str("provider", "huggingface").Logger()
		a := provider.NewHuggingFaceAdapter(provider.HuggingFaceConfig{
			HubURL:       c.HuggingFace.HubURL,
			InferenceURL: c.HuggingFace.InferenceURL,
			Token:        c.HuggingFace.Token,
			CacheDir:     c.HuggingFace.CacheDir,
			Revision:     c.HuggingFace.Revision,
			Timeout:      c.HuggingFace.Timeout.Std(),
			Logger:       l,
		})
		out[catalog.ProviderHuggingFace] = provider.WithRetry(a, policy, l)
	}
	return out
}

// seeds resolves static catalog entries: the seed file wins over inline
// models, and the built-in list is used when neither is set.
func seeds(c config.Config) ([]catalog.ModelDescriptor, error) {
	if c.Catalog.SeedFile != "" {
		return catalog.LoadSeedFile(c.Catalog.SeedFile)
	}
	if len(c.Catalog.Models) > 0 {
		return catalog.DescriptorsFromEntries(c.Catalog.Models)
	}
	return catalog.DefaultSeeds(), nil
}

func newCatalog(c config.Config, adapters map[catalog.ProviderKind]provider.Adapter) (*catalog.Catalog, error) {
	s, err := seeds(c)
	if err != nil {
		return nil, err
	}
	l := componentLogger("catalog")
	opts := catalog.Options{CacheTTL: c.Catalog.CacheTTL.Std(), Logger: l}
	for _, a := range adapters {
		opts.Discoverers = append(opts.Discoverers, a)
	}
	if c.Catalog.CacheDir != "" {
		st, err := catalog.OpenBadgerStore(catalog.StoreConfig{Path: expandHome(c.Catalog.CacheDir), Logger: l})
		if err != nil {
			return nil, fmt.Errorf("open catalog cache: %w", err)
		}
		opts.Store = st
	}
	cat, err := catalog.New(s, opts)
	if err != nil && opts.Store != nil {
		_ = opts.Store.Close()
	}
	return cat, err
}

// managerConfig leaves Publisher nil: events only reach the debug log,
// and nothing retains them for the life of the process.
func managerConfig(c config.Config, cat *catalog.Catalog, adapters map[catalog.ProviderKind]provider.Adapter,
	mon *resource.Monitor, prof *hardware.Profiler) manager.Config {
	return manager.Config{
		Catalog:     cat,
		Adapters:    adapters,
		Monitor:     mon,
		Profiles:    prof,
		Logger:      componentLogger("manager"),
		LoadTimeout: c.Manager.LoadTimeout.Std(),
		LRUFile:     expandHome(c.Manager.LRUFile),
	}
}

// newServices builds everything and runs Manager.Init.
func newServices(ctx context.Context, c config.Config) (*services, error) {
	adapters := newAdapters(c)
	if len(adapters) == 0 {
		return nil, config.ErrConfiguration("ollama.disabled", "every provider is disabled")
	}
	cat, err := newCatalog(c, adapters)
	if err != nil {
		return nil, err
	}
	prof := newProfiler(c)
	mon := resource.NewMonitor(resource.Options{
		Profiles:            prof,
		SafetyMarginPercent: c.Hardware.SafetyMarginPercent,
		SafetyMarginBytes:   uint64(c.Hardware.SafetyMarginMB) * mib,
		Logger:              componentLogger("resource"),
	})
	mgr := manager.New(managerConfig(c, cat, adapters, mon, prof))
	if err := mgr.Init(ctx); err != nil {
		_ = cat.Close()
		return nil, err
	}
	plog := componentLogger("processor")
	procs := processor.NewSet(mgr, processor.Config{
		Logger:    plog,
		Extractor: processor.NewFFmpeg(c.Video.FFmpegPath, c.Video.FFprobePath, plog),
		Sampling: processor.Sampling{
			Interval:  c.Video.SampleInterval.Std(),
			Count:     c.Video.SampleCount,
			MaxFrames: c.Video.MaxFrames,
		},
		FrameConcurrency: c.Pipeline.FrameConcurrency,
	})
	pipe := pipeline.New(pipeline.Config{
		Processors:     procs,
		Workers:        c.Pipeline.Workers,
		QueueDepth:     c.Pipeline.QueueDepth,
		Retention:      c.Pipeline.JobRetention.Std(),
		ProcessTimeout: c.Pipeline.ProcessTimeout.Std(),
		MediaRoot:      expandHome(c.Pipeline.MediaRoot),
		Logger:         componentLogger("pipeline"),
	})
	return &services{profiler: prof, catalog: cat, monitor: mon, manager: mgr, pipeline: pipe}, nil
}

// close drains the pipeline, evicts models and closes the catalog store.
func (r *services) close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logErr(r.pipeline.Close(ctx), "pipeline close")
	logErr(r.manager.Shutdown(ctx), "manager shutdown")
	logErr(r.catalog.Close(), "catalog close")
}

// expandHome resolves "~" in state paths; a failed lookup keeps p as is.
func expandHome(p string) string {
	if exp, err := fsutil.ExpandHome(p); err == nil {
		return exp
	}
	return p
}

func logErr(err error, msg string) {
	if err != nil {
		log.Warn().Err(err).Msg(msg)
	}
}

func componentLogger(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
