package pipeline

import (
	"sync"
	"time"

	"modelpilot/internal/catalog"
	"modelpilot/internal/processor"
)

// State is a job's position in its lifecycle.
type State string

const (
	StateReceived   State = "received"
	StateValidated  State = "validated"
	StateDispatched State = "dispatched"
	StateProcessing State = "processing"
	StateFused      State = "fused"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Input is the media for one job. Kind is sniffed when empty. Path and Data
// are mutually exclusive; Text may accompany either or stand alone.
type Input struct {
	Kind     catalog.Modality
	Data     []byte
	Path     string
	Filename string
	Text     string
}

// Options are the per-job processing flags.
type Options struct {
	ExtractFrames        bool
	ObjectDetection      bool
	SceneDetection       bool
	TextAnalysis         bool
	MultimodalAnalysis   bool
	ContentSummarization bool
	AudioAnalysis        bool

	PreferredModelID string
	Prompt           string
	Sampling         processor.Sampling
	// Timeout overrides the pipeline's process timeout for this job.
	Timeout time.Duration
}

// JobHandle identifies a submitted job. Done is closed once the job reaches
// a terminal state.
type JobHandle struct {
	ID   string
	Done <-chan struct{}
}

// JobResult is the fused outcome of a job.
type JobResult struct {
	JobID   string                       `json:"job_id"`
	State   State                        `json:"state"`
	Kind    catalog.Modality             `json:"kind"`
	Results map[string]*processor.Result `json:"results"`
	// FailedModalities maps each failed step to its cause.
	FailedModalities map[string]string `json:"failed_modalities,omitempty"`
	NormalizedText   string            `json:"normalized_text,omitempty"`
	Objects          []string          `json:"objects,omitempty"`
	Confidence       *float64          `json:"confidence,omitempty"`
	Error            string            `json:"error,omitempty"`
	Duration         time.Duration     `json:"duration_ns"`
	Err              error             `json:"-"`
}

type job struct {
	id    string
	kind  catalog.Modality
	in    Input
	opts  Options
	steps []step

	state    State
	progress []float64
	result   *JobResult
	errMsg   string
	created  time.Time
	updated  time.Time

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func (j *job) requestCancel() { j.cancelOnce.Do(func() { close(j.cancel) }) }

func (j *job) cancelled() bool {
	select {
	case <-j.cancel:
		return true
	default:
		return false
	}
}

func (j *job) progressLocked() float64 {
	if j.state.Terminal() {
		return 1
	}
	if len(j.progress) == 0 {
		return 0
	}
	var sum float64
	for _, p := range j.progress {
		sum += p
	}
	return sum / float64(len(j.progress))
}
