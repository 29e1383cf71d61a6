package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpilot/internal/config"
)

const gib = 1024 * mib

func desc(id string, p ProviderKind, mem uint64, gpu bool, caps ...Modality) ModelDescriptor {
	return ModelDescriptor{ID: id, Provider: p, Ref: id, Capabilities: caps, MinRequiredMemoryBytes: mem, RecommendedGPU: gpu}
}

type fakeDiscoverer struct {
	kind  ProviderKind
	found []ModelDescriptor
	err   error
	calls int
}

func (f *fakeDiscoverer) Kind() ProviderKind { return f.kind }

func (f *fakeDiscoverer) Discover(context.Context) ([]ModelDescriptor, error) {
	f.calls++
	return append([]ModelDescriptor(nil), f.found...), f.err
}

func ids(ds []ModelDescriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestListCandidates_OrderingNoGPU(t *testing.T) {
	c, err := New([]ModelDescriptor{
		desc("model-A", ProviderOllama, 8*gib, true, ModalityImage),
		desc("model-B", ProviderOllama, 2*gib, false, ModalityImage),
		desc("model-C", ProviderHuggingFace, 4*gib, false, ModalityImage, ModalityText),
		desc("text-only", ProviderOllama, 1*gib, false, ModalityText),
	}, Options{})
	require.NoError(t, err)

	got := c.ListCandidates(ModalityImage, false)
	assert.Equal(t, []string{"huggingface/model-C", "ollama/model-B", "ollama/model-A"}, ids(got))
}

func TestListCandidates_OrderingWithGPU(t *testing.T) {
	c, err := New([]ModelDescriptor{
		desc("cpu-big", ProviderOllama, 9*gib, false, ModalityText),
		desc("gpu-small", ProviderOllama, 3*gib, true, ModalityText),
		desc("gpu-big", ProviderOllama, 12*gib, true, ModalityText),
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama/gpu-big", "ollama/gpu-small", "ollama/cpu-big"}, ids(c.ListCandidates(ModalityText, true)))
}

func TestListCandidates_TiesKeepInsertionOrder(t *testing.T) {
	c, err := New([]ModelDescriptor{
		desc("hf-first", ProviderHuggingFace, 3*gib, false, ModalityText),
		desc("ollama-second", ProviderOllama, 3*gib, false, ModalityText),
		desc("hf-third", ProviderHuggingFace, 3*gib, false, ModalityText),
	}, Options{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.Equal(t, []string{"huggingface/hf-first", "ollama/ollama-second", "huggingface/hf-third"}, ids(c.ListCandidates(ModalityText, false)))
	}
}

func TestGet(t *testing.T) {
	c, err := New([]ModelDescriptor{desc("ollama/llava:7b", ProviderOllama, gib, false, ModalityImage)}, Options{})
	require.NoError(t, err)
	d, err := c.Get("ollama/llava:7b")
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, d.Provider)
	assert.Equal(t, SourceSeed, d.Source)

	_, err = c.Get("ollama/nope")
	assert.True(t, IsNotFound(err))
}

func TestNew_RejectsBadSeeds(t *testing.T) {
	cases := [][]ModelDescriptor{
		{desc("", ProviderOllama, gib, false, ModalityText)},
		{desc("x", "replicate", gib, false, ModalityText)},
		{desc("x", ProviderOllama, gib, false)},
		{desc("x", ProviderOllama, gib, false, ModalityText), desc("x", ProviderOllama, gib, false, ModalityText)},
	}
	for i, seeds := range cases {
		_, err := New(seeds, Options{})
		assert.True(t, config.IsConfigurationError(err), "case %d: %v", i, err)
	}
}

func TestNew_NormalisesSeedIDs(t *testing.T) {
	c, err := New([]ModelDescriptor{
		{Provider: ProviderOllama, Ref: "phi3:mini", Capabilities: []Modality{ModalityText}},
		{ID: "fast-vision", Provider: ProviderOllama, Ref: "moondream", Capabilities: []Modality{ModalityImage}},
		{ID: "huggingface/openai/whisper-small", Provider: ProviderHuggingFace, Ref: "openai/whisper-small", Capabilities: []Modality{ModalityAudio}},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama/phi3:mini", "ollama/fast-vision", "huggingface/openai/whisper-small"}, ids(c.List()))

	d, err := c.Get("ollama/fast-vision")
	require.NoError(t, err)
	assert.Equal(t, "moondream", d.Ref)

	_, err = New([]ModelDescriptor{
		{Provider: ProviderOllama, Ref: "phi3:mini", Capabilities: []Modality{ModalityText}},
		{ID: "ollama/phi3:mini", Provider: ProviderOllama, Ref: "phi3:mini", Capabilities: []Modality{ModalityText}},
	}, Options{})
	assert.True(t, config.IsConfigurationError(err), "normalised ids collide: %v", err)
}

func TestRefresh_MergesAndSeedsWin(t *testing.T) {
	seed := desc("ollama/llava:7b", ProviderOllama, 5*gib, false, ModalityImage, ModalityText)
	seed.DisplayName = "from seed"
	disc := &fakeDiscoverer{kind: ProviderOllama, found: []ModelDescriptor{
		{Provider: ProviderOllama, Ref: "llava:7b", Capabilities: []Modality{ModalityImage}, DisplayName: "discovered"},
		{Provider: ProviderOllama, Ref: "qwen2:1.5b", Capabilities: []Modality{ModalityText}, MinRequiredMemoryBytes: gib},
	}}
	c, err := New([]ModelDescriptor{seed}, Options{Discoverers: []Discoverer{disc}})
	require.NoError(t, err)
	require.NoError(t, c.Refresh(context.Background()))

	all := c.List()
	require.Equal(t, []string{"ollama/llava:7b", "ollama/qwen2:1.5b"}, ids(all))
	assert.Equal(t, "from seed", all[0].DisplayName)
	assert.False(t, all[0].LastSeen.IsZero())
	assert.Equal(t, SourceDiscovered, all[1].Source)
}

func TestRefresh_FailedProviderKeepsPreviousEntries(t *testing.T) {
	ollama := &fakeDiscoverer{kind: ProviderOllama, found: []ModelDescriptor{{Provider: ProviderOllama, Ref: "phi3", Capabilities: []Modality{ModalityText}}}}
	hf := &fakeDiscoverer{kind: ProviderHuggingFace, err: errors.New("hub unreachable")}
	c, err := New(nil, Options{Discoverers: []Discoverer{ollama, hf}})
	require.NoError(t, err)

	err = c.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hub unreachable")
	assert.Equal(t, []string{"ollama/phi3"}, ids(c.List()))

	ollama.err = errors.New("down")
	_ = c.Refresh(context.Background())
	assert.Equal(t, []string{"ollama/phi3"}, ids(c.List()), "stale entries survive a failed discovery")

	ollama.err = nil
	ollama.found = nil
	hf.err = nil
	require.NoError(t, c.Refresh(context.Background()))
	assert.Empty(t, c.List())
}

func TestLoadCached_UsesStoreAndTTL(t *testing.T) {
	store, err := OpenBadgerStore(StoreConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	disc := &fakeDiscoverer{kind: ProviderOllama, found: []ModelDescriptor{
		{Provider: ProviderOllama, Ref: "b", Capabilities: []Modality{ModalityText}},
		{Provider: ProviderOllama, Ref: "a", Capabilities: []Modality{ModalityText}},
	}}
	c1, err := New(nil, Options{Store: store, Discoverers: []Discoverer{disc}, Now: func() time.Time { return now }})
	require.NoError(t, err)
	require.NoError(t, c1.Refresh(context.Background()))

	c2, err := New(nil, Options{Store: store, CacheTTL: time.Hour, Now: func() time.Time { return now.Add(10 * time.Minute) }})
	require.NoError(t, err)
	fresh, err := c2.LoadCached()
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, []string{"ollama/b", "ollama/a"}, ids(c2.List()))

	c3, err := New(nil, Options{Store: store, CacheTTL: time.Hour, Now: func() time.Time { return now.Add(2 * time.Hour) }})
	require.NoError(t, err)
	fresh, err = c3.LoadCached()
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Len(t, c3.List(), 2, "stale cache is still installed")
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadgerStore(StoreConfig{Path: dir})
	require.NoError(t, err)
	at := time.Unix(1700000000, 0)
	require.NoError(t, s.SaveDiscovered([]ModelDescriptor{desc("ollama/x", ProviderOllama, gib, false, ModalityText)}, at))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(StoreConfig{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, gotAt, err := s.LoadDiscovered()
	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	require.Len(t, got, 1)
	assert.Equal(t, "ollama/x", got[0].ID)
}

func TestDefaultSeeds_AreValid(t *testing.T) {
	seeds := DefaultSeeds()
	require.NotEmpty(t, seeds)
	c, err := New(seeds, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ListCandidates(ModalityImage, false))
	assert.NotEmpty(t, c.ListCandidates(ModalityText, false))
	assert.NotEmpty(t, c.ListCandidates(ModalityAudio, false))
}

func TestWatchSeedFile_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	write := func(ref string) {
		content := "models:\n  - provider: ollama\n    ref: " + ref + "\n    capabilities: [text]\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("first")
	seeds, err := LoadSeedFile(path)
	require.NoError(t, err)
	c, err := New(seeds, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.WatchSeedFile(ctx, path))

	write("second")
	require.Eventually(t, func() bool {
		_, err := c.Get("ollama/second")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	_, err = c.Get("ollama/first")
	assert.True(t, IsNotFound(err))
}
