package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpilot/internal/catalog"
	"modelpilot/internal/hardware"
	"modelpilot/internal/manager"
	"modelpilot/internal/pipeline"
	"modelpilot/internal/processor"
	"modelpilot/internal/provider"
	"modelpilot/internal/resource"
	"modelpilot/pkg/types"
)

const gib = uint64(1) << 30

// echoAdapter loads instantly and echoes prompts back.
type echoAdapter struct {
	mu    sync.Mutex
	loads int
}

func (a *echoAdapter) Kind() catalog.ProviderKind                    { return catalog.ProviderOllama }
func (a *echoAdapter) IsAvailable(context.Context, string) bool      { return true }
func (a *echoAdapter) EstimateMemoryBytes(string) uint64             { return gib }
func (a *echoAdapter) Unload(context.Context, provider.Handle) error { return nil }
func (a *echoAdapter) Discover(context.Context) ([]catalog.ModelDescriptor, error) {
	return nil, nil
}

func (a *echoAdapter) Load(_ context.Context, ref string, _ provider.ProgressSink) (provider.Handle, error) {
	a.mu.Lock()
	a.loads++
	a.mu.Unlock()
	return provider.Handle{Provider: catalog.ProviderOllama, Ref: ref, Token: ref, LoadedAt: time.Now()}, nil
}

func (a *echoAdapter) loadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loads
}

func (a *echoAdapter) Infer(_ context.Context, h provider.Handle, req provider.InferRequest) (provider.InferResponse, error) {
	return provider.InferResponse{Text: "echo from " + h.Ref, Model: h.Ref}, nil
}

func newTestApp(t *testing.T) (*httptest.Server, *echoAdapter) {
	t.Helper()
	return newTestAppWithMedia(t, t.TempDir())
}

// newTestAppWithMedia serves jobs whose paths must fall under mediaRoot.
func newTestAppWithMedia(t *testing.T, mediaRoot string) (*httptest.Server, *echoAdapter) {
	t.Helper()
	seeds := []catalog.ModelDescriptor{
		{ID: "ollama/llama3.2:3b", Provider: catalog.ProviderOllama, Ref: "llama3.2:3b",
			Capabilities: []catalog.Modality{catalog.ModalityText}, MinRequiredMemoryBytes: 2 * gib},
		{ID: "ollama/llava:7b", Provider: catalog.ProviderOllama, Ref: "llava:7b",
			Capabilities: []catalog.Modality{catalog.ModalityImage, catalog.ModalityText}, MinRequiredMemoryBytes: 5 * gib, RecommendedGPU: true},
	}
	cat, err := catalog.New(seeds, catalog.Options{})
	require.NoError(t, err)

	profiles := resource.StaticProfile(hardware.Profile{TotalRAMBytes: 16 * gib, AvailableRAMBytes: 12 * gib, Tier: hardware.TierMedium})
	mon := resource.NewMonitor(resource.Options{Profiles: profiles, SafetyMarginBytes: gib})
	adapter := &echoAdapter{}
	mgr := manager.New(manager.Config{
		Catalog:     cat,
		Adapters:    map[catalog.ProviderKind]provider.Adapter{catalog.ProviderOllama: adapter},
		Monitor:     mon,
		SkipRefresh: true,
	})
	require.NoError(t, mgr.Init(context.Background()))

	procs := processor.NewSet(mgr, processor.Config{TempDir: t.TempDir()})
	pipe := pipeline.New(pipeline.Config{Processors: procs, Workers: 2, MediaRoot: mediaRoot})
	app := &App{Manager: mgr, Catalog: cat, Pipeline: pipe, Profiles: profiles, Started: time.Now()}

	srv := httptest.NewServer(NewMux(app))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pipe.Close(ctx)
		_ = mgr.Shutdown(ctx)
	})
	return srv, adapter
}

func TestApp_TextJobEndToEnd(t *testing.T) {
	srv, adapter := newTestApp(t)

	body := `{"text":"Quarterly numbers are up.","options":{"content_summarization":true}}`
	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var st types.JobStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.NotEmpty(t, st.ID)

	var jr pipeline.JobResult
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/jobs/" + st.ID + "/result")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(r.Body).Decode(&jr) == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, pipeline.StateCompleted, jr.State)
	assert.Equal(t, "echo from llama3.2:3b", jr.NormalizedText, "the CPU model matches a GPU-less host")
	assert.Equal(t, 1, adapter.loadCount())

	r, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer r.Body.Close()
	var status types.StatusResponse
	require.NoError(t, json.NewDecoder(r.Body).Decode(&status))
	assert.Equal(t, "ready", status.State)
	require.Len(t, status.Instances, 1)
	assert.Equal(t, "ollama/llama3.2:3b", status.Instances[0].ModelID)
	assert.Zero(t, status.Instances[0].Refs, "handle released after the job")
}

func TestApp_ModelsByCapability(t *testing.T) {
	srv, _ := newTestApp(t)

	r, err := http.Get(srv.URL + "/models?capability=image")
	require.NoError(t, err)
	defer r.Body.Close()
	var models types.ModelsResponse
	require.NoError(t, json.NewDecoder(r.Body).Decode(&models))
	require.Len(t, models.Models, 1)
	assert.Equal(t, "ollama/llava:7b", models.Models[0].ID)

	r2, err := http.Get(srv.URL + "/models")
	require.NoError(t, err)
	defer r2.Body.Close()
	require.NoError(t, json.NewDecoder(r2.Body).Decode(&models))
	assert.Len(t, models.Models, 2)
}

func TestApp_UnsupportedMediaRejected(t *testing.T) {
	srv, _ := newTestApp(t)
	payload, err := json.Marshal(types.JobRequest{Data: []byte{0x00, 0x01, 0x02, 0x03}})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/jobs", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestApp_PathOutsideMediaRootRejected(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("api_key=hunter2"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "memo.txt"), []byte("Ship it on Friday."), 0o600))
	srv, adapter := newTestAppWithMedia(t, root)

	for _, p := range []string{secret, "../" + filepath.Base(filepath.Dir(secret)) + "/secret.txt", "/etc/passwd"} {
		payload, err := json.Marshal(types.JobRequest{Path: p, Kind: "text"})
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+"/jobs", "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, p)
	}
	assert.Zero(t, adapter.loadCount(), "rejected paths never reach a model")

	payload, err := json.Marshal(types.JobRequest{Path: "memo.txt", Options: types.JobOptions{ContentSummarization: true}})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/jobs", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
