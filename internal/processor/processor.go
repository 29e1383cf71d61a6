// Package processor turns raw media into normalized analysis results using
// models leased from the manager.
package processor

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"modelpilot/internal/catalog"
	"modelpilot/internal/manager"
	"modelpilot/internal/provider"
)

// Models is the manager surface processors use. *manager.Manager satisfies it.
type Models interface {
	Acquire(ctx context.Context, req manager.AcquireRequest) (manager.Handle, error)
	Release(h manager.Handle)
	Infer(ctx context.Context, h manager.Handle, req provider.InferRequest) (provider.InferResponse, error)
}

// Processor analyses one modality. Process never returns a Go error;
// failures are reported inside the Result.
type Processor interface {
	Modality() catalog.Modality
	Process(ctx context.Context, in Input, opts Options) *Result
}

// Input is raw media for one processing call. Video input comes from Video;
// the other modalities read Data or Text.
type Input struct {
	Data     []byte
	Text     string
	Filename string
	Video    VideoSource
}

// Options selects prompts and bounds a call.
type Options struct {
	ObjectDetection bool
	SceneDetection  bool
	Summarize       bool
	Analyze         bool
	// Prompt is an optional free-form question for multimodal prompts.
	Prompt           string
	PreferredModelID string
	// Timeout bounds the whole Process call. Zero means no extra bound.
	Timeout  time.Duration
	Sampling Sampling
	// Cancel, when closed, stops a video call at the next frame boundary.
	// In-flight inference calls are not interrupted.
	Cancel <-chan struct{}
	// OnFrame reports video frame completion.
	OnFrame func(done, total int)
}

// ErrorKind classifies a failed result.
type ErrorKind string

const (
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindModelUnavailable  ErrorKind = "model_unavailable"
	KindInference         ErrorKind = "inference"
	KindTimeout           ErrorKind = "timeout"
	KindCancelled         ErrorKind = "cancelled"
	KindConfiguration     ErrorKind = "configuration"
)

// Result is the normalized output of one Process call.
type Result struct {
	Modality       catalog.Modality `json:"modality"`
	ModelID        string           `json:"model_id,omitempty"`
	RawOutput      string           `json:"raw_output,omitempty"`
	NormalizedText string           `json:"normalized_text,omitempty"`
	Confidence     *float64         `json:"confidence,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Frames         []FrameResult    `json:"frames,omitempty"`
	Duration       time.Duration    `json:"duration_ns"`

	Failed    bool      `json:"failed"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Err       error     `json:"-"`
}

// FrameResult is one sampled video frame's analysis.
type FrameResult struct {
	Index            int      `json:"index"`
	TimestampSeconds float64  `json:"timestamp_seconds"`
	Text             string   `json:"text,omitempty"`
	Objects          []string `json:"objects,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`

	Failed    bool      `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

func newResult(m catalog.Modality) *Result {
	return &Result{Modality: m, Metadata: map[string]any{}}
}

// Failed builds a failed result for work that never reached a processor.
func Failed(m catalog.Modality, err error) *Result { return newResult(m).fail(err) }

// fail marks r failed with err classified into a processor error.
func (r *Result) fail(err error) *Result {
	kind, err := classify(err)
	r.Failed = true
	r.Err = err
	r.Error = err.Error()
	r.ErrorKind = kind
	return r
}

// Config carries the shared processor settings.
type Config struct {
	Logger    zerolog.Logger
	Extractor FrameExtractor
	Sampling  Sampling
	// FrameConcurrency limits concurrent frame inferences. Default 4.
	FrameConcurrency int
	// TempDir receives byte-stream videos before probing.
	TempDir   string
	MaxTokens int
}

// Set holds one processor per modality.
type Set struct {
	Image *ImageProcessor
	Text  *TextProcessor
	Audio *AudioProcessor
	Video *VideoProcessor
}

// NewSet builds every processor over one model source.
func NewSet(models Models, cfg Config) *Set {
	img := NewImageProcessor(models, cfg)
	txt := NewTextProcessor(models, cfg)
	return &Set{
		Image: img,
		Text:  txt,
		Audio: NewAudioProcessor(models, cfg),
		Video: NewVideoProcessor(img, txt, cfg),
	}
}

// For returns the processor for m, or nil.
func (s *Set) For(m catalog.Modality) Processor {
	switch m {
	case catalog.ModalityImage:
		return s.Image
	case catalog.ModalityText:
		return s.Text
	case catalog.ModalityAudio:
		return s.Audio
	case catalog.ModalityVideo:
		return s.Video
	}
	return nil
}

// withTimeout applies opts.Timeout to ctx.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// infer runs one scoped acquisition: the handle is released on every path.
func infer(ctx context.Context, models Models, capability catalog.Modality, preferred string, req provider.InferRequest) (string, provider.InferResponse, error) {
	h, err := models.Acquire(ctx, manager.AcquireRequest{Capability: capability, PreferredModelID: preferred})
	if err != nil {
		return "", provider.InferResponse{}, err
	}
	defer models.Release(h)
	resp, err := models.Infer(ctx, h, req)
	return h.ModelID(), resp, err
}

// structured holds fields pulled out of JSON-looking model output.
type structured struct {
	text       string
	objects    []string
	confidence *float64
	fields     map[string]any
}

// parseStructured extracts a JSON object embedded in raw model output. It
// falls back to the trimmed text when none is found.
func parseStructured(raw string, textKeys ...string) structured {
	out := structured{text: strings.TrimSpace(raw)}
	js, ok := extractJSON(raw)
	if !ok {
		return out
	}
	doc := gjson.Parse(js)
	for _, k := range textKeys {
		if v := doc.Get(k); v.Exists() && v.String() != "" {
			out.text = strings.TrimSpace(v.String())
			break
		}
	}
	for _, o := range doc.Get("objects").Array() {
		name := o.String()
		if o.IsObject() {
			name = o.Get("label").String()
			if name == "" {
				name = o.Get("name").String()
			}
		}
		if name != "" {
			out.objects = append(out.objects, name)
		}
	}
	if c := doc.Get("confidence"); c.Exists() && c.Type == gjson.Number {
		v := clamp01(c.Float())
		out.confidence = &v
	}
	if m, ok := doc.Value().(map[string]any); ok {
		out.fields = m
	}
	return out
}

func extractJSON(raw string) (string, bool) {
	i := strings.IndexByte(raw, '{')
	j := strings.LastIndexByte(raw, '}')
	if i < 0 || j <= i {
		return "", false
	}
	s := raw[i : j+1]
	return s, gjson.Valid(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
