package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"modelpilot/internal/catalog"
	"modelpilot/internal/manager"
	"modelpilot/internal/processor"
	"modelpilot/internal/provider"
)

type fakeModels struct {
	mu     sync.Mutex
	acqErr map[catalog.Modality]error
	// gate, when set, blocks every inference until it is closed.
	gate    chan struct{}
	started chan struct{}
	calls   int
	// panicModel makes inference on that model id panic.
	panicModel string
}

func newFakeModels() *fakeModels {
	return &fakeModels{acqErr: map[catalog.Modality]error{}}
}

func (f *fakeModels) failModality(m catalog.Modality) {
	f.mu.Lock()
	f.acqErr[m] = &manager.InsufficientResourcesError{Capability: m}
	f.mu.Unlock()
}

func (f *fakeModels) Acquire(_ context.Context, req manager.AcquireRequest) (manager.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.acqErr[req.Capability]; err != nil {
		return manager.Handle{}, err
	}
	return manager.Handle{Descriptor: catalog.ModelDescriptor{ID: "fake/" + string(req.Capability)}}, nil
}

func (f *fakeModels) Release(manager.Handle) {}

func (f *fakeModels) Infer(ctx context.Context, h manager.Handle, req provider.InferRequest) (provider.InferResponse, error) {
	f.mu.Lock()
	f.calls++
	gate, started, panicModel := f.gate, f.started, f.panicModel
	f.mu.Unlock()
	if panicModel != "" && h.Descriptor.ID == panicModel {
		panic("runtime crashed")
	}
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return provider.InferResponse{}, ctx.Err()
		}
	}
	switch {
	case len(req.Audio) > 0:
		return provider.InferResponse{Text: "spoken words"}, nil
	case len(req.Images) > 0 && strings.HasPrefix(string(req.Images[0]), "frame@"):
		return provider.InferResponse{Text: fmt.Sprintf(`{"description": "%s", "objects": ["Dog"]}`, req.Images[0])}, nil
	case len(req.Images) > 0:
		return provider.InferResponse{Text: `{"description": "a dog in a park", "objects": ["dog", "tree"], "confidence": 0.8}`}, nil
	case req.JSON:
		return provider.InferResponse{Text: `{"summary": "text summary", "topics": ["dogs"]}`}, nil
	}
	return provider.InferResponse{Text: "video summary"}, nil
}

type fakeExtractor struct {
	meta     processor.VideoMetadata
	probeErr error
	audio    []byte
}

func (f *fakeExtractor) Probe(context.Context, string) (processor.VideoMetadata, error) {
	return f.meta, f.probeErr
}

func (f *fakeExtractor) Frame(_ context.Context, _ string, ts float64) ([]byte, error) {
	return []byte(fmt.Sprintf("frame@%.1f", ts)), nil
}

func (f *fakeExtractor) AudioTrack(context.Context, string) ([]byte, error) { return f.audio, nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	p      *Pipeline
	models *fakeModels
	ex     *fakeExtractor
	clock  *fakeClock
}

type envOpts struct {
	workers, queue int
	retention      time.Duration
	mediaRoot      string
}

func newEnv(t *testing.T, o envOpts) *env {
	t.Helper()
	models := newFakeModels()
	ex := &fakeExtractor{meta: processor.VideoMetadata{DurationSeconds: 4, HasAudio: true}, audio: wavBytes()}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	set := processor.NewSet(models, processor.Config{Extractor: ex, TempDir: t.TempDir(), FrameConcurrency: 2})
	p := New(Config{
		Processors: set,
		Workers:    o.workers,
		QueueDepth: o.queue,
		Retention:  o.retention,
		MediaRoot:  o.mediaRoot,
		Now:        clock.Now,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return &env{p: p, models: models, ex: ex, clock: clock}
}

func (e *env) wait(t *testing.T, h JobHandle) *JobResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	jr, err := e.p.Wait(ctx, h.ID)
	if err != nil {
		t.Fatalf("wait %s: %v", h.ID, err)
	}
	return jr
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func wavBytes() []byte {
	return append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)
}

func mp4Bytes() []byte {
	return append([]byte("\x00\x00\x00\x18ftypmp42"), make([]byte, 32)...)
}
