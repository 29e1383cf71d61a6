package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"modelpilot/internal/catalog"
	"modelpilot/internal/manager"
	"modelpilot/internal/provider"
)

// fakeModels hands out synthetic handles and routes inference to infer.
type fakeModels struct {
	mu       sync.Mutex
	acquires map[catalog.Modality]int
	held     int
	acqErr   map[catalog.Modality]error
	prompts  []string
	infer    func(h manager.Handle, req provider.InferRequest) (provider.InferResponse, error)
}

func newFakeModels() *fakeModels {
	return &fakeModels{acquires: map[catalog.Modality]int{}, acqErr: map[catalog.Modality]error{}}
}

func (f *fakeModels) Acquire(_ context.Context, req manager.AcquireRequest) (manager.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.acqErr[req.Capability]; err != nil {
		return manager.Handle{}, err
	}
	f.acquires[req.Capability]++
	f.held++
	return manager.Handle{Descriptor: catalog.ModelDescriptor{
		ID:           "fake/" + string(req.Capability),
		Capabilities: []catalog.Modality{req.Capability},
	}}, nil
}

func (f *fakeModels) Release(manager.Handle) {
	f.mu.Lock()
	f.held--
	f.mu.Unlock()
}

func (f *fakeModels) Infer(_ context.Context, h manager.Handle, req provider.InferRequest) (provider.InferResponse, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	fn := f.infer
	f.mu.Unlock()
	if fn == nil {
		return provider.InferResponse{Text: "ok", Model: h.ModelID()}, nil
	}
	return fn(h, req)
}

func (f *fakeModels) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeModels) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

// fakeExtractor returns frames that encode their timestamp.
type fakeExtractor struct {
	meta     VideoMetadata
	probeErr error
	delay    func(ts float64) time.Duration
	panicAt  func(ts float64) bool
	audio    []byte
}

func (f *fakeExtractor) Probe(context.Context, string) (VideoMetadata, error) {
	return f.meta, f.probeErr
}

func (f *fakeExtractor) Frame(ctx context.Context, _ string, ts float64) ([]byte, error) {
	if f.panicAt != nil && f.panicAt(ts) {
		panic("decoder crashed")
	}
	if f.delay != nil {
		select {
		case <-time.After(f.delay(ts)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(fmt.Sprintf("frame@%.3f", ts)), nil
}

func (f *fakeExtractor) AudioTrack(context.Context, string) ([]byte, error) {
	return f.audio, nil
}

// frameTS recovers the timestamp from a fake frame.
func frameTS(b []byte) float64 {
	v, _ := strconv.ParseFloat(strings.TrimPrefix(string(b), "frame@"), 64)
	return v
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func wavHeader() []byte {
	b := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	return append(b, make([]byte, 32)...)
}
