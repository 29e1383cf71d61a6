package manager

import (
	"context"
	"sort"

	"modelpilot/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status(ctx context.Context) types.StatusResponse {
	snap := m.monitor.Snapshot(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := types.StatusResponse{
		State:             string(m.state),
		BaselineBytes:     snap.Budget.BaselineBytes,
		InUseBytes:        snap.Budget.InUseBytes,
		SafetyMarginBytes: snap.Budget.SafetyMarginBytes,
		AvailableBytes:    snap.Budget.AvailableBytes,
		LoadsTotal:        m.loads.Load(),
		LoadFailuresTotal: m.loadFailures.Load(),
		EvictionsTotal:    m.evictions.Load(),
		LastError:         m.lastErr,
		ServerTimeUnix:    m.now().Unix(),
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.entries))
	for _, e := range m.entries {
		is := types.InstanceStatus{
			ModelID:        e.desc.ID,
			Provider:       string(e.desc.Provider),
			State:          string(e.state),
			Refs:           e.refs,
			LastUsedUnix:   e.lastUsed.Unix(),
			EstimatedBytes: e.estimate,
			ActualBytes:    e.actual,
		}
		if e.state == StateLoading {
			resp.LoadingCount++
			is.ProgressPercent = e.progress.Percent()
		} else {
			is.LoadedAtUnix = e.loadedAt.Unix()
		}
		resp.Instances = append(resp.Instances, is)
	}
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].ModelID < resp.Instances[j].ModelID })
	return resp
}

// Loaded returns the ids of ready models, sorted.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for id, e := range m.entries {
		if e.state == StateReady {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
