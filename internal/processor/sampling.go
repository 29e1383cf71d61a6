package processor

import "time"

const (
	defaultSampleInterval = 2 * time.Second
	defaultMaxFrames      = 32
)

// Sampling picks frame timestamps. Count > 0 selects fixed-count sampling;
// otherwise frames are taken every Interval. MaxFrames caps either.
type Sampling struct {
	Interval  time.Duration
	Count     int
	MaxFrames int
}

// merge fills unset fields of s from def.
func (s Sampling) merge(def Sampling) Sampling {
	if s.Interval <= 0 && s.Count <= 0 {
		s.Interval, s.Count = def.Interval, def.Count
	}
	if s.MaxFrames <= 0 {
		s.MaxFrames = def.MaxFrames
	}
	if s.MaxFrames <= 0 {
		s.MaxFrames = defaultMaxFrames
	}
	if s.Interval <= 0 && s.Count <= 0 {
		s.Interval = defaultSampleInterval
	}
	return s
}

// Timestamps returns frame times in seconds for a video of the given
// duration. Fixed-count frames sit at the centre of equal slices; interval
// frames start at zero. A video of unknown length yields one frame at zero.
func (s Sampling) Timestamps(duration float64) []float64 {
	s = s.merge(Sampling{})
	if duration <= 0 {
		return []float64{0}
	}
	count := s.Count
	if count <= 0 {
		step := s.Interval.Seconds()
		n := int(duration / step)
		if float64(n)*step < duration {
			n++
		}
		if n <= s.MaxFrames {
			out := make([]float64, n)
			for i := range out {
				out[i] = float64(i) * step
			}
			return out
		}
		count = s.MaxFrames
	}
	if count > s.MaxFrames {
		count = s.MaxFrames
	}
	out := make([]float64, count)
	slice := duration / float64(count)
	for i := range out {
		out[i] = slice * (float64(i) + 0.5)
	}
	return out
}
