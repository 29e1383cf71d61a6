// Package provider adapts external model-serving systems (Ollama and
// HuggingFace) behind one interface.
package provider

import (
	"context"
	"time"

	"modelpilot/internal/catalog"
)

// Handle is what a provider hands back for a loaded model. Token is opaque
// to callers.
type Handle struct {
	Provider catalog.ProviderKind
	Ref      string
	Token    string
	// ActualMemoryBytes is the footprint reported by the provider after
	// load, or 0 when unknown.
	ActualMemoryBytes uint64
	LoadedAt          time.Time
}

// Progress is a download or load progress update.
type Progress struct {
	Ref       string
	Status    string
	Completed int64
	Total     int64
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// ProgressSink receives progress while Load blocks. Implementations must
// be quick and must not block.
type ProgressSink interface {
	Progress(Progress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(Progress)

func (f ProgressFunc) Progress(p Progress) { f(p) }

func report(s ProgressSink, p Progress) {
	if s != nil {
		s.Progress(p)
	}
}

// InferRequest is a single provider call.
type InferRequest struct {
	Prompt string
	System string
	// Images holds raw encoded image bytes (png, jpeg, ...).
	Images      [][]byte
	Audio       []byte
	AudioFormat string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for JSON-formatted output where supported.
	JSON bool
}

// InferResponse is the raw provider output.
type InferResponse struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Adapter is the capability set every provider implements.
type Adapter interface {
	Kind() catalog.ProviderKind
	// IsAvailable checks local availability, without network where possible.
	IsAvailable(ctx context.Context, ref string) bool
	// Load may download and can take minutes. sink may be nil.
	Load(ctx context.Context, ref string, sink ProgressSink) (Handle, error)
	// Unload is best-effort and idempotent.
	Unload(ctx context.Context, h Handle) error
	// EstimateMemoryBytes never requires the model to be loaded.
	EstimateMemoryBytes(ref string) uint64
	Infer(ctx context.Context, h Handle, req InferRequest) (InferResponse, error)
	Discover(ctx context.Context) ([]catalog.ModelDescriptor, error)
}
