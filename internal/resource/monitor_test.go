package resource

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpilot/internal/hardware"
)

const gib = 1024 * 1024 * 1024

func newMonitor(total, avail uint64, pct float64, marginBytes uint64) *Monitor {
	return NewMonitor(Options{
		Profiles:            StaticProfile(hardware.Profile{TotalRAMBytes: total, AvailableRAMBytes: avail}),
		SafetyMarginPercent: pct,
		SafetyMarginBytes:   marginBytes,
	})
}

func TestBudget_SubtractsReservationsAndMargin(t *testing.T) {
	m := newMonitor(16*gib, 10*gib, 10, 0)
	ctx := context.Background()

	b := m.Budget(ctx, 4*gib)
	margin := uint64(16 * gib / 10)
	assert.Equal(t, margin, b.SafetyMarginBytes)
	assert.Equal(t, 10*gib-margin, b.AvailableBytes)
	assert.Zero(t, b.DeficitBytes)
	assert.True(t, b.Fits())

	m.Reserve("a", 6*gib)
	b = m.Budget(ctx, 4*gib)
	assert.Equal(t, uint64(6*gib), b.InUseBytes)
	assert.Equal(t, 4*gib-margin, b.AvailableBytes)
	assert.Equal(t, margin, b.DeficitBytes)
	assert.False(t, m.Fits(ctx, 4*gib))
}

func TestBudget_NeverUnderflows(t *testing.T) {
	m := newMonitor(4*gib, 1*gib, 0, 2*gib)
	b := m.Budget(context.Background(), 1)
	assert.Zero(t, b.AvailableBytes)
	assert.Equal(t, uint64(1), b.DeficitBytes)
}

func TestSafetyMargin_LargerWins(t *testing.T) {
	assert.Equal(t, uint64(2*gib), newMonitor(0, 0, 10, 2*gib).SafetyMargin(8*gib))
	assert.Equal(t, uint64(32*gib/10), newMonitor(0, 0, 10, 1*gib).SafetyMargin(32*gib))
	assert.Zero(t, newMonitor(0, 0, 0, 0).SafetyMargin(32*gib))
}

func TestReserveAdjustFree(t *testing.T) {
	m := newMonitor(16*gib, 16*gib, 0, 0)
	m.Reserve("a", 2*gib)
	m.Reserve("b", 3*gib)
	assert.Equal(t, uint64(5*gib), m.InUse())

	m.Reserve("a", 1*gib)
	assert.Equal(t, uint64(4*gib), m.InUse(), "re-reserving replaces")

	m.Adjust("b", 5*gib)
	got, ok := m.Reserved("b")
	require.True(t, ok)
	assert.Equal(t, uint64(5*gib), got)
	assert.Equal(t, uint64(6*gib), m.InUse())

	m.Adjust("missing", gib)
	m.Adjust("a", 0)
	assert.Equal(t, uint64(6*gib), m.InUse())

	m.Free("a")
	m.Free("a")
	assert.Equal(t, uint64(5*gib), m.InUse())

	snap := m.Snapshot(context.Background())
	require.Len(t, snap.Reservations, 1)
	assert.Equal(t, "b", snap.Reservations[0].ID)
	assert.Equal(t, uint64(11*gib), snap.Budget.AvailableBytes)
}

func TestProperty_InUseMatchesReservations(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("in-use equals the sum of live reservations", prop.ForAll(
		func(ops []int) bool {
			m := newMonitor(64*gib, 64*gib, 10, 0)
			ids := []string{"a", "b", "c", "d"}
			for i, op := range ops {
				id := ids[i%len(ids)]
				switch op % 3 {
				case 0:
					m.Reserve(id, uint64(op)*1024)
				case 1:
					m.Adjust(id, uint64(op)*2048)
				default:
					m.Free(id)
				}
			}
			var sum uint64
			for _, r := range m.Snapshot(context.Background()).Reservations {
				sum += r.Bytes
			}
			return sum == m.InUse()
		},
		gen.SliceOf(gen.IntRange(0, 5000)),
	))
	properties.TestingRun(t)
}
