// Package resource tracks memory reserved by loaded models against what the
// host can safely allocate.
package resource

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"modelpilot/internal/hardware"
)

// ProfileSource supplies the baseline hardware profile. *hardware.Profiler
// satisfies it.
type ProfileSource interface {
	Profile(ctx context.Context) hardware.Profile
}

// StaticProfile is a ProfileSource returning a fixed snapshot.
type StaticProfile hardware.Profile

func (s StaticProfile) Profile(context.Context) hardware.Profile { return hardware.Profile(s) }

// Options configures a Monitor. The safety margin is the larger of
// SafetyMarginBytes and SafetyMarginPercent of total RAM.
type Options struct {
	Profiles            ProfileSource
	SafetyMarginPercent float64
	SafetyMarginBytes   uint64
	Logger              zerolog.Logger
}

// Budget is a per-decision view of memory headroom.
type Budget struct {
	RequiredBytes     uint64 `json:"required_bytes"`
	AvailableBytes    uint64 `json:"available_bytes"`
	DeficitBytes      uint64 `json:"deficit_bytes"`
	SafetyMarginBytes uint64 `json:"safety_margin_bytes"`
	InUseBytes        uint64 `json:"in_use_bytes"`
	// BaselineBytes is the profiled available RAM the budget starts from.
	BaselineBytes uint64 `json:"baseline_bytes"`
}

// Fits reports whether the required bytes fit without eviction.
func (b Budget) Fits() bool { return b.DeficitBytes == 0 }

// Reservation is one model's accounted memory.
type Reservation struct {
	ID    string `json:"id"`
	Bytes uint64 `json:"bytes"`
}

// Snapshot is the monitor state for status reporting.
type Snapshot struct {
	Budget       Budget        `json:"budget"`
	Reservations []Reservation `json:"reservations"`
}

// Monitor accounts reservations keyed by model id. It is safe for
// concurrent use; callers needing check-then-reserve atomicity hold their
// own lock around both steps.
type Monitor struct {
	mu    sync.Mutex
	opts  Options
	res   map[string]uint64
	inUse uint64
}

func NewMonitor(opts Options) *Monitor {
	if opts.Profiles == nil {
		opts.Profiles = hardware.NewProfiler(hardware.Options{Logger: opts.Logger})
	}
	return &Monitor{opts: opts, res: make(map[string]uint64)}
}

// Profiles returns the profile source the budget is computed from.
func (m *Monitor) Profiles() ProfileSource { return m.opts.Profiles }

// SafetyMargin returns the margin for a host with total RAM bytes.
func (m *Monitor) SafetyMargin(total uint64) uint64 {
	pct := uint64(float64(total) * m.opts.SafetyMarginPercent / 100)
	if m.opts.SafetyMarginBytes > pct {
		return m.opts.SafetyMarginBytes
	}
	return pct
}

// Budget computes headroom for required bytes: baseline available RAM
// minus reservations minus the safety margin.
func (m *Monitor) Budget(ctx context.Context, required uint64) Budget {
	prof := m.opts.Profiles.Profile(ctx)
	m.mu.Lock()
	inUse := m.inUse
	m.mu.Unlock()
	return compute(prof, inUse, m.SafetyMargin(prof.TotalRAMBytes), required)
}

func compute(prof hardware.Profile, inUse, margin, required uint64) Budget {
	b := Budget{
		RequiredBytes:     required,
		SafetyMarginBytes: margin,
		InUseBytes:        inUse,
		BaselineBytes:     prof.AvailableRAMBytes,
	}
	if used := inUse + margin; prof.AvailableRAMBytes > used {
		b.AvailableBytes = prof.AvailableRAMBytes - used
	}
	if required > b.AvailableBytes {
		b.DeficitBytes = required - b.AvailableBytes
	}
	return b
}

// Fits is shorthand for Budget(ctx, required).Fits().
func (m *Monitor) Fits(ctx context.Context, required uint64) bool {
	return m.Budget(ctx, required).Fits()
}

// Reserve accounts bytes for id, replacing any previous reservation.
func (m *Monitor) Reserve(id string, bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inUse -= m.res[id]
	m.res[id] = bytes
	m.inUse += bytes
}

// Adjust replaces the reservation for id with an adapter-reported actual.
// Unknown ids and zero actuals are ignored.
func (m *Monitor) Adjust(id string, actual uint64) {
	if actual == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.res[id]
	if !ok || prev == actual {
		return
	}
	m.inUse = m.inUse - prev + actual
	m.res[id] = actual
	m.opts.Logger.Debug().Str("model", id).Uint64("estimated", prev).Uint64("actual", actual).Msg("reservation corrected")
}

// Free drops the reservation for id. Freeing an unknown id is a no-op.
func (m *Monitor) Free(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.res[id]; ok {
		m.inUse -= b
		delete(m.res, id)
	}
}

// Reserved returns the bytes reserved for id.
func (m *Monitor) Reserved(id string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.res[id]
	return b, ok
}

// InUse returns the total reserved bytes.
func (m *Monitor) InUse() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}

// Snapshot returns the zero-requirement budget and every reservation
// sorted by id.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	prof := m.opts.Profiles.Profile(ctx)
	m.mu.Lock()
	out := Snapshot{Reservations: make([]Reservation, 0, len(m.res))}
	for id, b := range m.res {
		out.Reservations = append(out.Reservations, Reservation{ID: id, Bytes: b})
	}
	inUse := m.inUse
	m.mu.Unlock()
	sort.Slice(out.Reservations, func(i, j int) bool { return out.Reservations[i].ID < out.Reservations[j].ID })
	out.Budget = compute(prof, inUse, m.SafetyMargin(prof.TotalRAMBytes), 0)
	return out
}
