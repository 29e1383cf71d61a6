package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"modelpilot/internal/catalog"
	"modelpilot/internal/registry"
)

const (
	hfOverhead      = 1.2
	hfFallbackBytes = 1024 * mib
)

// HuggingFaceConfig configures HuggingFaceAdapter.
type HuggingFaceConfig struct {
	HubURL string
	// InferenceURL is an OpenAI-compatible endpoint (TGI, vLLM or the HF
	// router) serving the downloaded models.
	InferenceURL string
	Token        string
	CacheDir     string
	Revision     string
	Timeout      time.Duration
	MemoryTable  map[string]uint64
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// HuggingFaceAdapter keeps weights in the local hub cache and runs
// inference against an OpenAI-compatible server.
type HuggingFaceAdapter struct {
	cfg    HuggingFaceConfig
	client *http.Client
	ai     *openai.Client
	log    zerolog.Logger

	mu     sync.Mutex
	loaded map[string]struct{}
}

func NewHuggingFaceAdapter(cfg HuggingFaceConfig) *HuggingFaceAdapter {
	if cfg.HubURL == "" {
		cfg.HubURL = "https://huggingface.co"
	}
	cfg.HubURL = strings.TrimRight(cfg.HubURL, "/")
	if cfg.Revision == "" {
		cfg.Revision = "main"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "~/.cache/huggingface"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	aiCfg := openai.DefaultConfig(cfg.Token)
	if cfg.InferenceURL != "" {
		aiCfg.BaseURL = strings.TrimRight(cfg.InferenceURL, "/")
	}
	aiCfg.HTTPClient = client
	return &HuggingFaceAdapter{
		cfg:    cfg,
		client: client,
		ai:     openai.NewClientWithConfig(aiCfg),
		log:    cfg.Logger,
		loaded: make(map[string]struct{}),
	}
}

func (a *HuggingFaceAdapter) Kind() catalog.ProviderKind { return catalog.ProviderHuggingFace }

// IsAvailable checks the local hub cache only.
func (a *HuggingFaceAdapter) IsAvailable(_ context.Context, ref string) bool {
	_, ok := registry.Lookup(a.cfg.CacheDir, ref, a.cfg.Revision)
	return ok
}

func (a *HuggingFaceAdapter) Load(ctx context.Context, ref string, sink ProgressSink) (Handle, error) {
	cached, ok := registry.Lookup(a.cfg.CacheDir, ref, a.cfg.Revision)
	if !ok {
		var err error
		if cached, err = a.download(ctx, ref, sink); err != nil {
			return Handle{}, err
		}
	}
	report(sink, Progress{Ref: ref, Status: "warming"})
	if err := a.warm(ctx, ref); err != nil {
		return Handle{}, err
	}
	h := Handle{
		Provider: catalog.ProviderHuggingFace,
		Ref:      ref,
		Token:    ref + "@" + cached.Revision,
		LoadedAt: time.Now(),
	}
	a.mu.Lock()
	a.loaded[h.Token] = struct{}{}
	a.mu.Unlock()
	report(sink, Progress{Ref: ref, Status: "ready"})
	return h, nil
}

// warm makes the runtime load the model with a one-token completion.
// Speech models are only checked for reachability.
func (a *HuggingFaceAdapter) warm(ctx context.Context, ref string) error {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	caps := InferCapabilities(ref)
	if len(caps) == 1 && caps[0] == catalog.ModalityAudio {
		_, err := a.ai.ListModels(cctx)
		return a.classifyLoad(ctx, ref, err)
	}
	_, err := a.ai.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model:     ref,
		MaxTokens: 1,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
	})
	return a.classifyLoad(ctx, ref, err)
}

func (a *HuggingFaceAdapter) classifyLoad(ctx context.Context, ref string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: "load", Ref: ref, Err: err}
	}
	status, msg := openAIStatus(err)
	lower := strings.ToLower(msg)
	switch {
	case status == 0:
		return &NetworkError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "inference server unreachable", Err: err}
	case status == http.StatusServiceUnavailable || status == http.StatusInsufficientStorage ||
		strings.Contains(lower, "out of memory") || strings.Contains(lower, "cuda oom"):
		return &ResourceError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: msg, Err: err}
	case status >= 500:
		return &NetworkError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: msg, Err: err}
	default:
		return &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: msg, Err: err}
	}
}

// openAIStatus extracts the HTTP status from a go-openai error; 0 means the
// request never got a response.
func openAIStatus(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return reqErr.HTTPStatusCode, msg
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return 0, netErr.Error()
	}
	return 0, err.Error()
}

// download fetches the files needed to run ref into the hub cache layout.
func (a *HuggingFaceAdapter) download(ctx context.Context, ref string, sink ProgressSink) (registry.CachedModel, error) {
	report(sink, Progress{Ref: ref, Status: "resolving"})
	meta, err := a.hubGet(ctx, ref, fmt.Sprintf("%s/api/models/%s/revision/%s", a.cfg.HubURL, ref, a.cfg.Revision))
	if err != nil {
		return registry.CachedModel{}, err
	}
	info := gjson.ParseBytes(meta)
	sha := info.Get("sha").String()
	if sha == "" {
		sha = a.cfg.Revision
	}
	var names []string
	info.Get("siblings.#.rfilename").ForEach(func(_, v gjson.Result) bool {
		names = append(names, v.String())
		return true
	})
	files := selectFiles(names)
	if len(files) == 0 {
		return registry.CachedModel{}, &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "repository has no loadable weight files"}
	}

	dir, err := registry.SnapshotDir(a.cfg.CacheDir, ref, sha)
	if err != nil {
		return registry.CachedModel{}, err
	}
	for i, f := range files {
		status := fmt.Sprintf("downloading %s (%d/%d)", f, i+1, len(files))
		if err := a.fetchFile(ctx, ref, sha, f, filepath.Join(dir, filepath.FromSlash(f)), status, sink); err != nil {
			return registry.CachedModel{}, err
		}
	}
	refsDir := filepath.Join(filepath.Dir(filepath.Dir(dir)), "refs")
	if err := os.MkdirAll(refsDir, 0o755); err == nil {
		_ = os.WriteFile(filepath.Join(refsDir, a.cfg.Revision), []byte(sha), 0o644)
	}
	cached, ok := registry.Lookup(a.cfg.CacheDir, ref, a.cfg.Revision)
	if !ok {
		return registry.CachedModel{}, &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "downloaded snapshot has no weights"}
	}
	return cached, nil
}

// selectFiles keeps configs, tokenizers and one weight format, preferring
// safetensors.
func selectFiles(names []string) []string {
	hasSafetensors := false
	for _, n := range names {
		if strings.HasSuffix(n, ".safetensors") {
			hasSafetensors = true
		}
	}
	var out []string
	for _, n := range names {
		base := path.Base(n)
		switch {
		case registry.IsWeightFile(n):
			if hasSafetensors && !strings.HasSuffix(n, ".safetensors") {
				continue
			}
			if strings.HasSuffix(n, ".onnx") || strings.HasSuffix(n, ".h5") || strings.HasSuffix(n, ".msgpack") {
				continue
			}
			out = append(out, n)
		case strings.HasSuffix(n, ".json"), strings.HasSuffix(n, ".model"), strings.HasSuffix(n, ".tiktoken"),
			base == "vocab.txt", base == "merges.txt":
			out = append(out, n)
		}
	}
	return out
}

func (a *HuggingFaceAdapter) newHubRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	return req, nil
}

func (a *HuggingFaceAdapter) hubGet(ctx context.Context, ref, url string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	req, err := a.newHubRequest(cctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.transportErr(ctx, ref, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, a.transportErr(ctx, ref, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, hubStatusErr(ref, resp.StatusCode, body)
	}
	return body, nil
}

func (a *HuggingFaceAdapter) transportErr(ctx context.Context, ref string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: "download", Ref: ref, Err: err}
	}
	return &NetworkError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "hub request failed", Err: err}
}

func hubStatusErr(ref string, status int, body []byte) error {
	msg := gjson.GetBytes(body, "error").String()
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "access denied (gated model or missing HF_TOKEN): " + msg}
	case status == http.StatusNotFound:
		return &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "not found on hub: " + msg}
	default:
		return &NetworkError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: fmt.Sprintf("hub status %d: %s", status, msg)}
	}
}

// fetchFile streams one repo file to dst through a temp file.
func (a *HuggingFaceAdapter) fetchFile(ctx context.Context, ref, rev, name, dst, status string, sink ProgressSink) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", a.cfg.HubURL, ref, rev, name)
	req, err := a.newHubRequest(ctx, url)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return a.transportErr(ctx, ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return hubStatusErr(ref, resp.StatusCode, body)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "create cache dir", Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".incomplete-*")
	if err != nil {
		return &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "create temp file", Err: err}
	}
	defer os.Remove(tmp.Name())
	pw := &progressWriter{sink: sink, p: Progress{Ref: ref, Status: status, Total: resp.ContentLength}}
	if _, err := io.Copy(io.MultiWriter(tmp, pw), resp.Body); err != nil {
		tmp.Close()
		return a.transportErr(ctx, ref, err)
	}
	if err := tmp.Close(); err != nil {
		return &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "write file", Err: err}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return &ModelLoadError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "finalize file", Err: err}
	}
	return nil
}

type progressWriter struct {
	sink ProgressSink
	p    Progress
	last time.Time
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.p.Completed += int64(len(b))
	if now := time.Now(); now.Sub(w.last) > 250*time.Millisecond || w.p.Completed == w.p.Total {
		w.last = now
		report(w.sink, w.p)
	}
	return len(b), nil
}

// Unload forgets the handle. The remote runtime manages its own residency,
// so there is nothing to release server-side.
func (a *HuggingFaceAdapter) Unload(_ context.Context, h Handle) error {
	a.mu.Lock()
	delete(a.loaded, h.Token)
	a.mu.Unlock()
	return nil
}

func (a *HuggingFaceAdapter) EstimateMemoryBytes(ref string) uint64 {
	if v, ok := a.cfg.MemoryTable[ref]; ok {
		return v
	}
	if m, ok := registry.Lookup(a.cfg.CacheDir, ref, a.cfg.Revision); ok {
		return uint64(float64(m.WeightBytes) * hfOverhead)
	}
	return hfFallbackBytes
}

func (a *HuggingFaceAdapter) Infer(ctx context.Context, h Handle, req InferRequest) (InferResponse, error) {
	start := time.Now()
	if len(req.Audio) > 0 {
		name := "audio." + strings.TrimPrefix(req.AudioFormat, ".")
		if req.AudioFormat == "" {
			name = "audio.wav"
		}
		resp, err := a.ai.CreateTranscription(ctx, openai.AudioRequest{Model: h.Ref, FilePath: name, Reader: bytes.NewReader(req.Audio), Prompt: req.Prompt})
		if err != nil {
			return InferResponse{}, a.classifyInfer(ctx, h.Ref, err)
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return InferResponse{}, &InferenceError{Provider: catalog.ProviderHuggingFace, Ref: h.Ref, Msg: "empty transcription"}
		}
		return InferResponse{Text: text, Model: h.Ref, Duration: time.Since(start)}, nil
	}

	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Images) == 0 {
		user.Content = req.Prompt
	} else {
		user.MultiContent = []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
		for _, img := range req.Images {
			uri := "data:" + http.DetectContentType(img) + ";base64," + base64.StdEncoding.EncodeToString(img)
			user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: uri, Detail: openai.ImageURLDetailAuto},
			})
		}
	}
	msgs = append(msgs, user)
	creq := openai.ChatCompletionRequest{Model: h.Ref, Messages: msgs, MaxTokens: req.MaxTokens, Temperature: float32(req.Temperature)}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := a.ai.CreateChatCompletion(ctx, creq)
	if err != nil {
		return InferResponse{}, a.classifyInfer(ctx, h.Ref, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return InferResponse{}, &InferenceError{Provider: catalog.ProviderHuggingFace, Ref: h.Ref, Msg: "empty response"}
	}
	return InferResponse{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Duration:         time.Since(start),
	}, nil
}

func (a *HuggingFaceAdapter) classifyInfer(ctx context.Context, ref string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: "infer", Ref: ref, Err: err}
	}
	status, msg := openAIStatus(err)
	if status == 0 {
		return &NetworkError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: "inference server unreachable", Err: err}
	}
	return &InferenceError{Provider: catalog.ProviderHuggingFace, Ref: ref, Msg: fmt.Sprintf("status %d: %s", status, msg), Err: err}
}

// Discover lists repositories present in the local hub cache.
func (a *HuggingFaceAdapter) Discover(_ context.Context) ([]catalog.ModelDescriptor, error) {
	cached, err := registry.Scan(a.cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.ModelDescriptor, 0, len(cached))
	for _, m := range cached {
		caps := InferCapabilities(m.Ref)
		if len(caps) == 0 {
			continue
		}
		mem := uint64(float64(m.WeightBytes) * hfOverhead)
		out = append(out, catalog.ModelDescriptor{
			ID:                     catalog.QualifiedID(catalog.ProviderHuggingFace, m.Ref),
			Provider:               catalog.ProviderHuggingFace,
			Ref:                    m.Ref,
			Capabilities:           caps,
			MinRequiredMemoryBytes: mem,
			RecommendedGPU:         bigEnoughForGPU(mem),
			DisplayName:            m.Ref,
			Description:            "cached revision " + m.Revision,
		})
	}
	return out, nil
}
