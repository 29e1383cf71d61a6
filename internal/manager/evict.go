package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"modelpilot/internal/catalog"
)

const (
	scopeCrossProvider = "cross_provider"
	scopeSameProvider  = "same_provider"
	scopeAll           = "all"
)

type victim struct {
	e     *entry
	scope string
	bytes uint64
}

// planEvictionLocked picks idle models whose reservations cover deficit for
// loading d: other providers' models by least-recent use first, then d's
// own provider by least-recent use. d itself is never picked. When even
// every idle model would not cover the deficit it returns nil and the
// reclaimable total, and nothing is evicted.
func (m *Manager) planEvictionLocked(d catalog.ModelDescriptor, deficit uint64) ([]victim, uint64) {
	var cross, same []victim
	for id, e := range m.entries {
		if id == d.ID || !e.idle() {
			continue
		}
		b, _ := m.monitor.Reserved(id)
		if e.desc.Provider != d.Provider {
			cross = append(cross, victim{e: e, scope: scopeCrossProvider, bytes: b})
		} else {
			same = append(same, victim{e: e, scope: scopeSameProvider, bytes: b})
		}
	}
	sortLRU(cross)
	sortLRU(same)

	var plan []victim
	var freed uint64
	for _, v := range append(cross, same...) {
		if freed >= deficit {
			break
		}
		plan = append(plan, v)
		freed += v.bytes
	}
	if freed < deficit {
		return nil, freed
	}
	return plan, freed
}

func sortLRU(vs []victim) {
	sort.Slice(vs, func(i, j int) bool {
		a, b := vs[i].e, vs[j].e
		if !a.lastUsed.Equal(b.lastUsed) {
			return a.lastUsed.Before(b.lastUsed)
		}
		return a.desc.ID < b.desc.ID
	})
}

func (m *Manager) removeLocked(e *entry) {
	delete(m.entries, e.desc.ID)
	m.monitor.Free(e.desc.ID)
}

// unloadVictims unloads already-removed entries through their adapters.
func (m *Manager) unloadVictims(ctx context.Context, vs []victim, forModel string) []error {
	var errs []error
	for _, v := range vs {
		id := v.e.desc.ID
		adapter, ok := m.adapters[v.e.desc.Provider]
		if ok {
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.unloadTimeout)
			if err := adapter.Unload(uctx, v.e.handle); err != nil {
				m.log.Warn().Err(err).Str("model", id).Msg("evict unload failed")
				errs = append(errs, fmt.Errorf("unload %s: %w", id, err))
			}
			cancel()
		}
		m.evictions.Add(1)
		evictionsTotal.WithLabelValues(v.scope).Inc()
		fields := map[string]any{"scope": v.scope, "bytes": v.bytes}
		if forModel != "" {
			fields["for_model"] = forModel
		}
		m.emit(EventEvict, id, fields)
	}
	return errs
}

// EvictAll unloads every ready model regardless of holders. Loads still in
// flight finish and are kept unless Shutdown has begun.
func (m *Manager) EvictAll(ctx context.Context) error {
	m.mu.Lock()
	var vs []victim
	for id, e := range m.entries {
		if e.state != StateReady {
			continue
		}
		b, _ := m.monitor.Reserved(id)
		vs = append(vs, victim{e: e, scope: scopeAll, bytes: b})
	}
	sortLRU(vs)
	for _, v := range vs {
		m.removeLocked(v.e)
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	errs := m.unloadVictims(ctx, vs, "")
	m.emit(EventEvictAll, "", map[string]any{"count": len(vs)})
	return errors.Join(errs...)
}
