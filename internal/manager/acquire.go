package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modelpilot/internal/catalog"
	"modelpilot/internal/provider"
)

// Acquire returns a handle to a loaded model supporting req.Capability.
//
// A loaded preferred model is returned immediately. Otherwise candidates are
// tried in catalog order, the preferred model first. A candidate whose
// deficit cannot be covered by evicting idle models is skipped without
// evicting anything; one whose load fails is skipped after its reservation
// is dropped. Load timeouts and caller cancellation end the walk. When every
// candidate fails the error is an *InsufficientResourcesError carrying each
// cause.
func (m *Manager) Acquire(ctx context.Context, req AcquireRequest) (Handle, error) {
	m.emit(EventAcquireStart, req.PreferredModelID, map[string]any{"capability": string(req.Capability)})

	m.mu.Lock()
	if m.state == StateShuttingDown {
		m.mu.Unlock()
		return Handle{}, ErrShuttingDown
	}
	if id := req.PreferredModelID; id != "" {
		if e, ok := m.entries[id]; ok && e.state == StateReady {
			h := m.touchLocked(e)
			m.mu.Unlock()
			m.emit(EventAcquireHit, id, nil)
			return h, nil
		}
	}
	m.mu.Unlock()

	cands, err := m.candidates(ctx, req)
	if err != nil {
		return Handle{}, err
	}

	var causes []error
	for _, d := range cands {
		h, err := m.acquireCandidate(ctx, d, req.Progress)
		if err == nil {
			return h, nil
		}
		if ctx.Err() != nil {
			return Handle{}, fmt.Errorf("acquire %s: %w", req.Capability, ctx.Err())
		}
		if provider.IsTimeoutError(err) || IsShuttingDown(err) {
			return Handle{}, err
		}
		m.log.Info().Err(err).Str("model", d.ID).Msg("candidate unavailable, trying next")
		causes = append(causes, err)
	}
	return Handle{}, &InsufficientResourcesError{Capability: req.Capability, Causes: causes}
}

func (m *Manager) candidates(ctx context.Context, req AcquireRequest) ([]catalog.ModelDescriptor, error) {
	var out []catalog.ModelDescriptor
	if id := req.PreferredModelID; id != "" {
		d, err := m.catalog.Get(id)
		switch {
		case err != nil && req.Capability == "":
			return nil, ErrModelNotFound(id)
		case err != nil:
			m.log.Warn().Str("model", id).Msg("preferred model not in catalog")
		case req.Capability == "" || d.Supports(req.Capability):
			out = append(out, d)
		default:
			m.log.Warn().Str("model", id).Str("capability", string(req.Capability)).Msg("preferred model lacks capability")
		}
	}
	if req.Capability != "" {
		for _, d := range m.Candidates(ctx, req.Capability) {
			if d.ID != req.PreferredModelID {
				out = append(out, d)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates(req.Capability)
	}
	return out, nil
}

// acquireCandidate shares a ready entry, waits on a loading one, or claims
// the slot and loads.
func (m *Manager) acquireCandidate(ctx context.Context, d catalog.ModelDescriptor, sink provider.ProgressSink) (Handle, error) {
	adapter, ok := m.adapters[d.Provider]
	if !ok {
		return Handle{}, adapterMissingError{kind: d.Provider}
	}
	for {
		m.mu.Lock()
		if m.state == StateShuttingDown {
			m.mu.Unlock()
			return Handle{}, ErrShuttingDown
		}
		e, ok := m.entries[d.ID]
		if !ok {
			return m.claimAndLoadLocked(ctx, adapter, d, sink)
		}
		if e.state == StateReady {
			h := m.touchLocked(e)
			m.mu.Unlock()
			m.emit(EventAcquireHit, d.ID, nil)
			return h, nil
		}

		// Another caller is loading this model. Hold a reference while
		// waiting so the result cannot be evicted before we see it.
		e.refs++
		done := e.done
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			m.mu.Lock()
			if m.entries[d.ID] == e && e.refs > 0 {
				e.refs--
			}
			m.mu.Unlock()
			return Handle{}, ctx.Err()
		}

		m.mu.Lock()
		if e.err != nil {
			m.mu.Unlock()
			return Handle{}, e.err
		}
		if m.entries[d.ID] == e && e.state == StateReady {
			e.lastUsed = m.now()
			h := e.handleLocked()
			m.mu.Unlock()
			m.emit(EventAcquireHit, d.ID, nil)
			return h, nil
		}
		m.mu.Unlock()
	}
}

// claimAndLoadLocked must be called with m.mu held and releases it. The
// budget check, eviction plan and placeholder registration are one
// critical section so concurrent loads cannot both claim the same headroom.
func (m *Manager) claimAndLoadLocked(ctx context.Context, adapter provider.Adapter, d catalog.ModelDescriptor, sink provider.ProgressSink) (Handle, error) {
	required := m.estimateLocked(d, adapter)
	budget := m.monitor.Budget(ctx, required)

	var victims []victim
	if budget.DeficitBytes > 0 {
		var reclaimable uint64
		victims, reclaimable = m.planEvictionLocked(d, budget.DeficitBytes)
		if victims == nil {
			m.mu.Unlock()
			return Handle{}, budgetError{id: d.ID, required: required, available: budget.AvailableBytes, reclaimable: reclaimable}
		}
		for _, v := range victims {
			m.removeLocked(v.e)
		}
	}

	m.nextGen++
	e := &entry{
		desc:     d,
		state:    StateLoading,
		gen:      m.nextGen,
		refs:     1,
		estimate: required,
		lastUsed: m.now(),
		done:     make(chan struct{}),
	}
	m.entries[d.ID] = e
	m.monitor.Reserve(d.ID, required)
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.unloadVictims(ctx, victims, d.ID)
	return m.load(ctx, adapter, e, sink)
}

// load runs the provider load for a registered placeholder. The load is
// detached from caller cancellation and bounded by the load timeout.
func (m *Manager) load(ctx context.Context, adapter provider.Adapter, e *entry, sink provider.ProgressSink) (Handle, error) {
	id := e.desc.ID
	m.emit(EventLoadStart, id, map[string]any{"provider": string(e.desc.Provider), "estimated_bytes": e.estimate})
	start := time.Now()

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.loadTimeout)
	defer cancel()
	ph, err := adapter.Load(lctx, e.desc.Ref, m.progressSink(e, sink))
	if err != nil && errors.Is(lctx.Err(), context.DeadlineExceeded) && !provider.IsTimeoutError(err) {
		err = &provider.TimeoutError{Op: "load", Ref: e.desc.Ref, Err: err}
	}
	if err != nil {
		if provider.IsTimeoutError(err) {
			m.unloadAbandoned(adapter, e.desc)
		}
		m.failLoad(e, err)
		return Handle{}, fmt.Errorf("%s: %w", id, err)
	}

	m.mu.Lock()
	if m.state == StateShuttingDown || m.entries[id] != e {
		m.mu.Unlock()
		m.failLoad(e, ErrShuttingDown)
		m.unloadHandle(adapter, ph)
		return Handle{}, ErrShuttingDown
	}
	now := m.now()
	e.state = StateReady
	e.handle = ph
	e.loadedAt = now
	e.lastUsed = now
	if ph.ActualMemoryBytes > 0 {
		e.actual = ph.ActualMemoryBytes
		m.monitor.Adjust(id, e.actual)
	}
	m.lruMeta[id] = lruRecord{LastUsedUnix: now.Unix(), EstimatedBytes: e.estimate, ObservedBytes: e.actual}
	close(e.done)
	h := e.handleLocked()
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.loads.Add(1)
	loadsTotal.WithLabelValues(string(e.desc.Provider)).Inc()
	loadDuration.WithLabelValues(string(e.desc.Provider)).Observe(time.Since(start).Seconds())
	m.log.Info().Str("model", id).Dur("took", time.Since(start)).Uint64("actual_bytes", e.actual).Msg("model loaded")
	m.emit(EventLoadReady, id, map[string]any{"dur_ms": int(time.Since(start) / time.Millisecond)})
	return h, nil
}

func (m *Manager) failLoad(e *entry, err error) {
	id := e.desc.ID
	m.mu.Lock()
	if m.entries[id] == e {
		m.removeLocked(e)
	}
	e.err = err
	m.lastErr = err.Error()
	close(e.done)
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.loadFailures.Add(1)
	loadFailuresTotal.WithLabelValues(failureReason(err)).Inc()
	m.log.Warn().Err(err).Str("model", id).Msg("model load failed")
	m.emit(EventLoadFailed, id, map[string]any{"error": err.Error()})
}

// unloadAbandoned asks the provider to drop anything a timed-out load left
// behind. The handle has no token since Load never returned one.
func (m *Manager) unloadAbandoned(adapter provider.Adapter, d catalog.ModelDescriptor) {
	m.unloadHandle(adapter, provider.Handle{Provider: d.Provider, Ref: d.Ref})
}

func (m *Manager) unloadHandle(adapter provider.Adapter, h provider.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.unloadTimeout)
	defer cancel()
	if err := adapter.Unload(ctx, h); err != nil {
		m.log.Warn().Err(err).Str("ref", h.Ref).Msg("unload failed")
	}
}

func (m *Manager) progressSink(e *entry, next provider.ProgressSink) provider.ProgressSink {
	return provider.ProgressFunc(func(p provider.Progress) {
		m.mu.Lock()
		e.progress = p
		m.mu.Unlock()
		if next != nil {
			next.Progress(p)
		}
	})
}

// estimateLocked prefers memory observed on an earlier load, then the
// catalog requirement, then the adapter's estimate.
func (m *Manager) estimateLocked(d catalog.ModelDescriptor, adapter provider.Adapter) uint64 {
	if rec, ok := m.lruMeta[d.ID]; ok && rec.ObservedBytes > 0 {
		return rec.ObservedBytes
	}
	if d.MinRequiredMemoryBytes > 0 {
		return d.MinRequiredMemoryBytes
	}
	return adapter.EstimateMemoryBytes(d.Ref)
}

func (m *Manager) touchLocked(e *entry) Handle {
	e.refs++
	e.lastUsed = m.now()
	return e.handleLocked()
}

func failureReason(err error) string {
	switch {
	case provider.IsTimeoutError(err):
		return "timeout"
	case provider.IsResourceError(err):
		return "resources"
	case provider.IsNetworkError(err):
		return "network"
	case provider.IsModelLoadError(err):
		return "load"
	case IsShuttingDown(err):
		return "shutdown"
	default:
		return "other"
	}
}
