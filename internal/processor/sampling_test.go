package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSampling_Timestamps(t *testing.T) {
	cases := []struct {
		name     string
		s        Sampling
		duration float64
		want     []float64
	}{
		{name: "unknown duration", s: Sampling{}, duration: 0, want: []float64{0}},
		{name: "default interval", s: Sampling{}, duration: 10, want: []float64{0, 2, 4, 6, 8}},
		{name: "partial last step", s: Sampling{Interval: 2 * time.Second}, duration: 9, want: []float64{0, 2, 4, 6, 8}},
		{name: "count centres", s: Sampling{Count: 4}, duration: 8, want: []float64{1, 3, 5, 7}},
		{name: "count capped", s: Sampling{Count: 10, MaxFrames: 2}, duration: 8, want: []float64{2, 6}},
		{name: "interval overflow switches to count", s: Sampling{Interval: time.Second, MaxFrames: 4}, duration: 40, want: []float64{5, 15, 25, 35}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.s.Timestamps(tc.duration))
		})
	}
}

func TestSampling_Merge(t *testing.T) {
	def := Sampling{Interval: 5 * time.Second, MaxFrames: 8}
	got := Sampling{}.merge(def)
	assert.Equal(t, 5*time.Second, got.Interval)
	assert.Equal(t, 8, got.MaxFrames)

	got = Sampling{Count: 3}.merge(def)
	assert.Equal(t, 3, got.Count)
	assert.Zero(t, got.Interval)

	got = Sampling{}.merge(Sampling{})
	assert.Equal(t, defaultSampleInterval, got.Interval)
	assert.Equal(t, defaultMaxFrames, got.MaxFrames)
}
