package manager

import (
	"encoding/json"
	"os"

	"modelpilot/internal/common/fsutil"
)

type lruRecord struct {
	LastUsedUnix   int64  `json:"last_used_unix"`
	EstimatedBytes uint64 `json:"estimated_bytes"`
	// ObservedBytes is provider-reported memory from the last load.
	ObservedBytes uint64 `json:"observed_bytes,omitempty"`
}

func (m *Manager) loadLRUMetadata() {
	if m.lruPath == "" {
		return
	}
	f, err := os.Open(m.lruPath)
	if err != nil {
		return
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	var data map[string]lruRecord
	if err := dec.Decode(&data); err != nil {
		m.log.Warn().Err(err).Str("path", m.lruPath).Msg("ignoring unreadable lru metadata")
		return
	}
	m.mu.Lock()
	for id, rec := range data {
		if _, ok := m.lruMeta[id]; !ok {
			m.lruMeta[id] = rec
		}
	}
	m.mu.Unlock()
}

func (m *Manager) saveLRUMetadata() {
	if m.lruPath == "" {
		return
	}
	// Snapshot under lock
	m.mu.Lock()
	snap := make(map[string]lruRecord, len(m.lruMeta)+len(m.entries))
	for id, rec := range m.lruMeta {
		snap[id] = rec
	}
	for id, e := range m.entries {
		if e.state != StateReady {
			continue
		}
		rec := snap[id]
		rec.LastUsedUnix = e.lastUsed.Unix()
		rec.EstimatedBytes = e.estimate
		if e.actual > 0 {
			rec.ObservedBytes = e.actual
		}
		snap[id] = rec
	}
	m.mu.Unlock()
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	if err := fsutil.WriteFileAtomic(m.lruPath, b, 0o644); err != nil {
		m.log.Warn().Err(err).Str("path", m.lruPath).Msg("lru metadata not saved")
	}
}
