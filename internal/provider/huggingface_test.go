package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpilot/internal/catalog"
	"modelpilot/internal/registry"
)

type fakeHF struct {
	mu          sync.Mutex
	files       map[string][]byte
	chatStatus  int
	chatErr     string
	chatReply   string
	lastChat    map[string]any
	transcribed int
	authHeader  string
}

// newFakeHF serves both the hub API and an OpenAI-compatible runtime.
func newFakeHF(t *testing.T) (*fakeHF, *httptest.Server) {
	t.Helper()
	f := &fakeHF{
		files: map[string][]byte{
			"config.json":       []byte(`{"model_type":"blip"}`),
			"model.safetensors": make([]byte, 2048),
			"pytorch_model.bin": make([]byte, 4096),
			"README.md":         []byte("readme"),
		},
		chatReply: "two dogs playing",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeader = r.Header.Get("Authorization")
		f.mu.Unlock()
		if strings.Contains(r.URL.Path, "gated") {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "Access to model is restricted"})
			return
		}
		var siblings []map[string]string
		for name := range f.files {
			siblings = append(siblings, map[string]string{"rfilename": name})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sha": "deadbeef", "siblings": siblings})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastChat = body
		status, msg, reply := f.chatStatus, f.chatErr, f.chatReply
		f.mu.Unlock()
		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": msg, "type": "server_error"}})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "x", "object": "chat.completion", "model": body["model"],
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14},
		})
	})
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.transcribed++
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "hello world"})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []map[string]any{{"id": "openai/whisper-small", "object": "model"}}})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// /{org}/{name}/resolve/{rev}/{file}
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/resolve/", 2)
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		file := parts[1][strings.Index(parts[1], "/")+1:]
		f.mu.Lock()
		b, ok := f.files[file]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(b)))
		_, _ = w.Write(b)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestHF(srv *httptest.Server, cache string) *HuggingFaceAdapter {
	return NewHuggingFaceAdapter(HuggingFaceConfig{HubURL: srv.URL, InferenceURL: srv.URL + "/v1", Token: "hf_test", CacheDir: cache})
}

func TestHF_LoadDownloadsPreferredWeights(t *testing.T) {
	f, srv := newFakeHF(t)
	cache := t.TempDir()
	a := newTestHF(srv, cache)
	ref := "Salesforce/blip-image-captioning-base"
	require.False(t, a.IsAvailable(context.Background(), ref))

	var statuses []string
	h, err := a.Load(context.Background(), ref, ProgressFunc(func(p Progress) { statuses = append(statuses, p.Status) }))
	require.NoError(t, err)
	assert.Equal(t, catalog.ProviderHuggingFace, h.Provider)
	assert.Equal(t, ref+"@deadbeef", h.Token)
	assert.Equal(t, "Bearer hf_test", f.authHeader)
	assert.Contains(t, statuses, "ready")

	m, ok := registry.Lookup(cache, ref, "main")
	require.True(t, ok)
	assert.EqualValues(t, 2048, m.WeightBytes, "only safetensors downloaded")
	assert.NotContains(t, m.Files, "pytorch_model.bin")
	assert.NotContains(t, m.Files, "README.md")
	assert.True(t, a.IsAvailable(context.Background(), ref))
	assert.EqualValues(t, uint64(float64(m.WeightBytes)*hfOverhead), a.EstimateMemoryBytes(ref))
}

func TestHF_GatedModelIsLoadError(t *testing.T) {
	_, srv := newFakeHF(t)
	a := newTestHF(srv, t.TempDir())
	_, err := a.Load(context.Background(), "meta/gated-model", nil)
	assert.True(t, IsModelLoadError(err), "got %v", err)
	assert.Contains(t, err.Error(), "HF_TOKEN")
}

func TestHF_WarmupOOMIsResourceError(t *testing.T) {
	f, srv := newFakeHF(t)
	f.chatStatus = http.StatusServiceUnavailable
	f.chatErr = "CUDA out of memory"
	a := newTestHF(srv, t.TempDir())
	_, err := a.Load(context.Background(), "Qwen/Qwen2-VL-7B-Instruct", nil)
	assert.True(t, IsResourceError(err), "got %v", err)
}

func TestHF_InferenceServerDownIsNetworkError(t *testing.T) {
	_, srv := newFakeHF(t)
	a := NewHuggingFaceAdapter(HuggingFaceConfig{HubURL: srv.URL, InferenceURL: "http://127.0.0.1:1/v1", CacheDir: t.TempDir()})
	_, err := a.Load(context.Background(), "org/llm", nil)
	assert.True(t, IsNetworkError(err), "got %v", err)
}

func TestHF_InferWithImage(t *testing.T) {
	f, srv := newFakeHF(t)
	a := newTestHF(srv, t.TempDir())
	h, err := a.Load(context.Background(), "llava-hf/llava-1.5-7b-hf", nil)
	require.NoError(t, err)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	resp, err := a.Infer(context.Background(), h, InferRequest{Prompt: "what is this", System: "be brief", Images: [][]byte{png}})
	require.NoError(t, err)
	assert.Equal(t, "two dogs playing", resp.Text)
	assert.Equal(t, 4, resp.CompletionTokens)

	msgs := f.lastChat["messages"].([]any)
	require.Len(t, msgs, 2)
	parts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"), url)
}

func TestHF_InferAudioTranscribes(t *testing.T) {
	f, srv := newFakeHF(t)
	a := newTestHF(srv, t.TempDir())
	h, err := a.Load(context.Background(), "openai/whisper-small", nil)
	require.NoError(t, err)
	resp, err := a.Infer(context.Background(), h, InferRequest{Audio: []byte("RIFF....WAVE"), AudioFormat: "wav"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", resp.Text)
	assert.Equal(t, 1, f.transcribed)
}

func TestHF_EmptyReplyIsInferenceError(t *testing.T) {
	f, srv := newFakeHF(t)
	a := newTestHF(srv, t.TempDir())
	h, err := a.Load(context.Background(), "org/llm", nil)
	require.NoError(t, err)
	f.mu.Lock()
	f.chatReply = ""
	f.mu.Unlock()
	_, err = a.Infer(context.Background(), h, InferRequest{Prompt: "hi"})
	assert.True(t, IsInferenceError(err), "got %v", err)
}

func TestHF_DiscoverScansCache(t *testing.T) {
	cache := t.TempDir()
	snap := filepath.Join(cache, "hub", registry.RepoDirName("openai/whisper-small"), "snapshots", "abc")
	require.NoError(t, os.MkdirAll(snap, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snap, "model.safetensors"), make([]byte, 100), 0o644))

	a := NewHuggingFaceAdapter(HuggingFaceConfig{CacheDir: cache})
	got, err := a.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "huggingface/openai/whisper-small", got[0].ID)
	assert.Equal(t, []catalog.Modality{catalog.ModalityAudio}, got[0].Capabilities)
}

func TestSelectFiles(t *testing.T) {
	got := selectFiles([]string{"model.safetensors", "pytorch_model.bin", "tf_model.h5", "tokenizer.json", "vocab.txt", "README.md", "onnx/model.onnx"})
	assert.ElementsMatch(t, []string{"model.safetensors", "tokenizer.json", "vocab.txt"}, got)
	got = selectFiles([]string{"pytorch_model.bin", "config.json"})
	assert.ElementsMatch(t, []string{"pytorch_model.bin", "config.json"}, got)
}
