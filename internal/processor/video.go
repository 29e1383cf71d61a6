package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"modelpilot/internal/catalog"
	"modelpilot/internal/manager"
)

const defaultFrameConcurrency = 4

// VideoProcessor samples frames, analyses each with an image model and
// summarizes the sequence with a text model.
type VideoProcessor struct {
	image       *ImageProcessor
	text        *TextProcessor
	extractor   FrameExtractor
	sampling    Sampling
	concurrency int
	tempDir     string
	log         zerolog.Logger
}

func NewVideoProcessor(img *ImageProcessor, txt *TextProcessor, cfg Config) *VideoProcessor {
	p := &VideoProcessor{
		image:       img,
		text:        txt,
		extractor:   cfg.Extractor,
		sampling:    cfg.Sampling.merge(Sampling{}),
		concurrency: cfg.FrameConcurrency,
		tempDir:     cfg.TempDir,
		log:         cfg.Logger,
	}
	if p.extractor == nil {
		p.extractor = NewFFmpeg("", "", cfg.Logger)
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultFrameConcurrency
	}
	return p
}

func (p *VideoProcessor) Modality() catalog.Modality { return catalog.ModalityVideo }

func (p *VideoProcessor) source(in Input) VideoSource {
	if in.Video.empty() && len(in.Data) > 0 {
		return BytesSource(in.Data)
	}
	return in.Video
}

// Process probes the video, analyses sampled frames concurrently and
// summarizes the successful ones in frame order. Failed frames are kept in
// Frames and marked; the call only fails when no frame succeeded or the
// caller cancelled.
func (p *VideoProcessor) Process(ctx context.Context, in Input, opts Options) *Result {
	start := time.Now()
	res := newResult(catalog.ModalityVideo)
	defer func() { res.Duration = time.Since(start) }()

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	path, cleanup, err := p.source(in).open(p.tempDir)
	if err != nil {
		return res.fail(err)
	}
	defer cleanup()

	meta, err := p.extractor.Probe(ctx, path)
	if err != nil {
		return res.fail(err)
	}
	res.Metadata["duration_seconds"] = meta.DurationSeconds
	res.Metadata["width"] = meta.Width
	res.Metadata["height"] = meta.Height
	res.Metadata["fps"] = meta.FPS
	res.Metadata["has_audio"] = meta.HasAudio
	if meta.Codec != "" {
		res.Metadata["codec"] = meta.Codec
	}

	ts := opts.Sampling.merge(p.sampling).Timestamps(meta.DurationSeconds)
	res.Metadata["frames_sampled"] = len(ts)

	run, err := p.analyzeFrames(ctx, path, ts, opts)
	if err != nil {
		return res.fail(err)
	}
	frames, modelID := run.frames, run.modelID
	res.ModelID = modelID
	res.Frames = frames

	var ok []FrameResult
	for _, f := range frames {
		if !f.Failed {
			ok = append(ok, f)
		}
	}
	res.Metadata["frames_failed"] = len(frames) - len(ok)
	if run.stopErr != nil {
		return res.fail(run.stopErr)
	}
	if len(ok) == 0 {
		return res.fail(&InferenceError{ModelID: modelID, Msg: fmt.Sprintf("all %d frames failed", len(frames))})
	}

	res.Confidence = meanConfidence(ok)
	if objs := distinctObjects(ok); len(objs) > 0 {
		res.Metadata["objects"] = objs
	}

	summaryModel, summary, err := p.summarize(ctx, ok, meta, opts)
	if err != nil {
		p.log.Warn().Err(err).Msg("video summary failed; using frame descriptions")
		res.Metadata["summary_error"] = err.Error()
		res.NormalizedText = joinFrames(ok)
		return res
	}
	res.Metadata["summary_model_id"] = summaryModel
	res.RawOutput = summary
	res.NormalizedText = strings.TrimSpace(summary)
	return res
}

type frameRun struct {
	frames  []FrameResult
	modelID string
	// stopErr is set when cancellation or the deadline stopped dispatch.
	stopErr error
}

// analyzeFrames holds one image model for the whole video. Frames are
// dispatched in index order with a concurrency limit and written back by
// index. The cancel signal and ctx are checked before each dispatch; frames
// not dispatched are marked with the stop reason. A frame failure is kept
// in its FrameResult; only a panicking frame fails the whole run.
func (p *VideoProcessor) analyzeFrames(ctx context.Context, path string, ts []float64, opts Options) (frameRun, error) {
	h, err := p.image.models.Acquire(ctx, manager.AcquireRequest{Capability: catalog.ModalityImage, PreferredModelID: opts.PreferredModelID})
	if err != nil {
		return frameRun{}, err
	}
	defer p.image.models.Release(h)

	results := make([]FrameResult, len(ts))
	var done atomic.Int32
	var stopErr error
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, t := range ts {
		i, t := i, t
		results[i] = FrameResult{Index: i, TimestampSeconds: t}
		if stopErr = stopReason(ctx, opts.Cancel); stopErr != nil {
			kind, err := classify(stopErr)
			for j := i; j < len(ts); j++ {
				results[j] = FrameResult{Index: j, TimestampSeconds: ts[j], Failed: true, Error: err.Error(), ErrorKind: kind}
			}
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &InferenceError{ModelID: h.ModelID(), Msg: fmt.Sprintf("frame %d at %.3fs panicked: %v", i, t, r)}
				}
			}()
			fr := &results[i]
			data, err := p.extractor.Frame(ctx, path, t)
			var out structured
			if err == nil {
				out, err = p.image.analyzeFrame(ctx, h, data, opts)
			}
			if err != nil {
				kind, err := classify(err)
				fr.Failed, fr.Error, fr.ErrorKind = true, err.Error(), kind
				p.log.Debug().Err(err).Int("frame", i).Msg("frame failed")
			} else {
				fr.Text, fr.Objects, fr.Confidence = out.text, out.objects, out.confidence
			}
			if opts.OnFrame != nil {
				opts.OnFrame(int(done.Add(1)), len(ts))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return frameRun{}, err
	}
	return frameRun{frames: results, modelID: h.ModelID(), stopErr: stopErr}, nil
}

func stopReason(ctx context.Context, cancel <-chan struct{}) error {
	select {
	case <-cancel:
		return ErrCancelled
	default:
	}
	return ctx.Err()
}

func (p *VideoProcessor) summarize(ctx context.Context, frames []FrameResult, meta VideoMetadata, opts Options) (string, string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Below are descriptions of %d frames sampled in order from a %.0f second video.\n\n", len(frames), meta.DurationSeconds)
	for _, f := range frames {
		fmt.Fprintf(&b, "Frame %d at %.1fs: %s\n", f.Index, f.TimestampSeconds, f.Text)
	}
	b.WriteString("\nWrite a concise summary of the whole video: what happens, the setting and notable objects.")
	if q := strings.TrimSpace(opts.Prompt); q != "" {
		b.WriteString("\nAlso answer: " + q)
	}
	return p.text.complete(ctx, b.String(), "", false)
}

// AudioTrack extracts the audio of a video input as WAV.
func (p *VideoProcessor) AudioTrack(ctx context.Context, in Input) ([]byte, error) {
	path, cleanup, err := p.source(in).open(p.tempDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	meta, err := p.extractor.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if !meta.HasAudio {
		return nil, unsupported(catalog.ModalityAudio, "video has no audio track")
	}
	return p.extractor.AudioTrack(ctx, path)
}

func meanConfidence(frames []FrameResult) *float64 {
	var sum float64
	n := 0
	for _, f := range frames {
		if f.Confidence != nil {
			sum += *f.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	v := sum / float64(n)
	return &v
}

func distinctObjects(frames []FrameResult) []string {
	seen := map[string]struct{}{}
	for _, f := range frames {
		for _, o := range f.Objects {
			seen[strings.ToLower(o)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

func joinFrames(frames []FrameResult) string {
	parts := make([]string, 0, len(frames))
	for _, f := range frames {
		parts = append(parts, fmt.Sprintf("[%.1fs] %s", f.TimestampSeconds, f.Text))
	}
	return strings.Join(parts, "\n")
}
