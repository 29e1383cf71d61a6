package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"modelpilot/internal/catalog"
)

const (
	// ollamaOverhead scales on-disk size to a resident estimate.
	ollamaOverhead = 1.3
	// ollamaFallbackBytes is used when nothing is known about a model.
	ollamaFallbackBytes = 500 * mib
)

// OllamaConfig configures OllamaAdapter.
type OllamaConfig struct {
	BaseURL string
	// Timeout bounds a single HTTP call other than pulls.
	Timeout time.Duration
	TagsTTL time.Duration
	// PullMissing downloads models that are not present locally.
	PullMissing bool
	// MemoryTable overrides estimates by model ref.
	MemoryTable map[string]uint64
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// OllamaAdapter talks to an Ollama server. Loading pins a model with
// keep_alive=-1; unloading sends keep_alive=0.
type OllamaAdapter struct {
	cfg    OllamaConfig
	client *http.Client
	log    zerolog.Logger

	mu     sync.Mutex
	tags   []ollamaModel
	tagsAt time.Time
	loaded map[string]struct{}
}

type ollamaModel struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Size    int64  `json:"size"`
	Details struct {
		Family            string   `json:"family"`
		Families          []string `json:"families"`
		ParameterSize     string   `json:"parameter_size"`
		QuantizationLevel string   `json:"quantization_level"`
	} `json:"details"`
}

type ollamaGenerateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt,omitempty"`
	System    string         `json:"system,omitempty"`
	Images    []string       `json:"images,omitempty"`
	Stream    bool           `json:"stream"`
	Format    string         `json:"format,omitempty"`
	KeepAlive any            `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaPullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewOllamaAdapter(cfg OllamaConfig) *OllamaAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.TagsTTL <= 0 {
		cfg.TagsTTL = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		// no client-wide timeout: pulls stream for minutes
		client = &http.Client{}
	}
	return &OllamaAdapter{cfg: cfg, client: client, log: cfg.Logger, loaded: make(map[string]struct{})}
}

func (a *OllamaAdapter) Kind() catalog.ProviderKind { return catalog.ProviderOllama }

// normalizeOllamaName appends ":latest" when no tag is given.
func normalizeOllamaName(name string) string {
	if !strings.Contains(name, ":") {
		return name + ":latest"
	}
	return name
}

func (a *OllamaAdapter) listTags(ctx context.Context, force bool) ([]ollamaModel, error) {
	a.mu.Lock()
	if !force && a.tags != nil && time.Since(a.tagsAt) < a.cfg.TagsTTL {
		out := a.tags
		a.mu.Unlock()
		return out, nil
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Provider: catalog.ProviderOllama, Msg: "cannot reach ollama at " + a.cfg.BaseURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &NetworkError{Provider: catalog.ProviderOllama, Msg: fmt.Sprintf("list models: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	var tr struct {
		Models []ollamaModel `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &NetworkError{Provider: catalog.ProviderOllama, Msg: "decode /api/tags", Err: err}
	}
	if tr.Models == nil {
		tr.Models = []ollamaModel{}
	}
	a.mu.Lock()
	a.tags, a.tagsAt = tr.Models, time.Now()
	a.mu.Unlock()
	return tr.Models, nil
}

func (a *OllamaAdapter) findTag(tags []ollamaModel, ref string) (ollamaModel, bool) {
	want := normalizeOllamaName(ref)
	for _, m := range tags {
		if normalizeOllamaName(m.Name) == want || normalizeOllamaName(m.Model) == want {
			return m, true
		}
	}
	return ollamaModel{}, false
}

// IsAvailable uses the cached tag list; it only calls the server when the
// cache has expired.
func (a *OllamaAdapter) IsAvailable(ctx context.Context, ref string) bool {
	tags, err := a.listTags(ctx, false)
	if err != nil {
		return false
	}
	_, ok := a.findTag(tags, ref)
	return ok
}

func (a *OllamaAdapter) Load(ctx context.Context, ref string, sink ProgressSink) (Handle, error) {
	tags, err := a.listTags(ctx, true)
	if err != nil {
		return Handle{}, err
	}
	if _, ok := a.findTag(tags, ref); !ok {
		if !a.cfg.PullMissing {
			return Handle{}, &ModelLoadError{Provider: catalog.ProviderOllama, Ref: ref, Msg: "model not present locally; run: ollama pull " + ref}
		}
		if err := a.pull(ctx, ref, sink); err != nil {
			return Handle{}, err
		}
	}

	report(sink, Progress{Ref: ref, Status: "loading"})
	body := ollamaGenerateRequest{Model: ref, Stream: false, KeepAlive: -1}
	if _, err := a.generate(ctx, ref, body); err != nil {
		return Handle{}, err
	}
	h := Handle{Provider: catalog.ProviderOllama, Ref: ref, Token: normalizeOllamaName(ref), LoadedAt: time.Now()}
	if size, err := a.residentBytes(ctx, ref); err == nil {
		h.ActualMemoryBytes = size
	} else {
		a.log.Debug().Err(err).Str("model", ref).Msg("ollama ps unavailable")
	}
	a.mu.Lock()
	a.loaded[h.Token] = struct{}{}
	a.mu.Unlock()
	report(sink, Progress{Ref: ref, Status: "ready"})
	return h, nil
}

func (a *OllamaAdapter) pull(ctx context.Context, ref string, sink ProgressSink) error {
	b, _ := json.Marshal(map[string]any{"name": ref, "stream": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/api/pull", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &TimeoutError{Op: "pull", Ref: ref, Err: ctx.Err()}
		}
		return &NetworkError{Provider: catalog.ProviderOllama, Ref: ref, Msg: "pull request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyOllama(ref, resp.StatusCode, string(body), true)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var last ollamaPullProgress
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var p ollamaPullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			continue
		}
		if p.Error != "" {
			return classifyOllama(ref, http.StatusOK, p.Error, true)
		}
		last = p
		report(sink, Progress{Ref: ref, Status: p.Status, Completed: p.Completed, Total: p.Total})
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return &TimeoutError{Op: "pull", Ref: ref, Err: ctx.Err()}
		}
		return &NetworkError{Provider: catalog.ProviderOllama, Ref: ref, Msg: "pull stream interrupted", Err: err}
	}
	if last.Status != "success" {
		return &NetworkError{Provider: catalog.ProviderOllama, Ref: ref, Msg: "pull ended without success (last status: " + last.Status + ")"}
	}
	a.mu.Lock()
	a.tags = nil
	a.mu.Unlock()
	return nil
}

// generate posts to /api/generate and returns the raw JSON body.
func (a *OllamaAdapter) generate(ctx context.Context, ref string, body ollamaGenerateRequest) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, a.cfg.BaseURL+"/api/generate", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "generate", Ref: ref, Err: err}
		}
		return nil, &NetworkError{Provider: catalog.ProviderOllama, Ref: ref, Msg: "generate request failed", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Provider: catalog.ProviderOllama, Ref: ref, Msg: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, classifyOllama(ref, resp.StatusCode, msg, false)
	}
	return raw, nil
}

// classifyOllama maps an Ollama failure onto the error taxonomy.
func classifyOllama(ref string, status int, msg string, pulling bool) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "requires more system memory") ||
		strings.Contains(lower, "insufficient memory") || strings.Contains(lower, "cudamalloc failed"):
		return &ResourceError{Provider: catalog.ProviderOllama, Ref: ref, Msg: msg}
	case status == http.StatusNotFound || strings.Contains(lower, "not found") || strings.Contains(lower, "file does not exist"):
		return &ModelLoadError{Provider: catalog.ProviderOllama, Ref: ref, Msg: msg}
	case pulling || status >= 500:
		return &NetworkError{Provider: catalog.ProviderOllama, Ref: ref, Msg: fmt.Sprintf("status %d: %s", status, msg)}
	default:
		return &ModelLoadError{Provider: catalog.ProviderOllama, Ref: ref, Msg: fmt.Sprintf("status %d: %s", status, msg)}
	}
}

// residentBytes reads the loaded footprint from /api/ps.
func (a *OllamaAdapter) residentBytes(ctx context.Context, ref string) (uint64, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, a.cfg.BaseURL+"/api/ps", nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ps status %d", resp.StatusCode)
	}
	want := normalizeOllamaName(ref)
	var size uint64
	gjson.GetBytes(raw, "models").ForEach(func(_, m gjson.Result) bool {
		if normalizeOllamaName(m.Get("name").String()) == want || normalizeOllamaName(m.Get("model").String()) == want {
			size = m.Get("size").Uint()
			return false
		}
		return true
	})
	if size == 0 {
		return 0, fmt.Errorf("model %s not listed by ps", ref)
	}
	return size, nil
}

// Unload asks Ollama to drop the model. A handle that is not loaded is a
// no-op, so repeated calls succeed. A handle without a token comes from a
// load that never completed; the request is sent anyway and failures are
// ignored.
func (a *OllamaAdapter) Unload(ctx context.Context, h Handle) error {
	partial := h.Token == ""
	a.mu.Lock()
	_, ok := a.loaded[h.Token]
	delete(a.loaded, h.Token)
	a.mu.Unlock()
	if !ok && !partial {
		return nil
	}
	// keep_alive:0 must be sent explicitly; omitempty would drop it
	b, _ := json.Marshal(map[string]any{"model": h.Ref, "stream": false, "keep_alive": 0})
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, a.cfg.BaseURL+"/api/generate", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warn().Err(err).Str("model", h.Ref).Msg("ollama unload failed")
		if partial {
			return nil
		}
		return &NetworkError{Provider: catalog.ProviderOllama, Ref: h.Ref, Msg: "unload request failed", Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// EstimateMemoryBytes uses the configured table, then the cached on-disk
// size, then a fixed fallback.
func (a *OllamaAdapter) EstimateMemoryBytes(ref string) uint64 {
	if v, ok := a.cfg.MemoryTable[ref]; ok {
		return v
	}
	a.mu.Lock()
	tags := a.tags
	a.mu.Unlock()
	if m, ok := a.findTag(tags, ref); ok && m.Size > 0 {
		return uint64(float64(m.Size) * ollamaOverhead)
	}
	return ollamaFallbackBytes
}

func (a *OllamaAdapter) Infer(ctx context.Context, h Handle, req InferRequest) (InferResponse, error) {
	if len(req.Audio) > 0 {
		return InferResponse{}, &InferenceError{Provider: catalog.ProviderOllama, Ref: h.Ref, Msg: "audio input is not supported by ollama"}
	}
	body := ollamaGenerateRequest{Model: h.Ref, Prompt: req.Prompt, System: req.System, Stream: false, KeepAlive: -1}
	for _, img := range req.Images {
		body.Images = append(body.Images, base64.StdEncoding.EncodeToString(img))
	}
	if req.JSON {
		body.Format = "json"
	}
	opts := map[string]any{}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if len(opts) > 0 {
		body.Options = opts
	}
	start := time.Now()
	raw, err := a.generate(ctx, h.Ref, body)
	if err != nil {
		if IsModelLoadError(err) || IsResourceError(err) {
			return InferResponse{}, &InferenceError{Provider: catalog.ProviderOllama, Ref: h.Ref, Err: err}
		}
		return InferResponse{}, err
	}
	if !gjson.ValidBytes(raw) {
		return InferResponse{}, &InferenceError{Provider: catalog.ProviderOllama, Ref: h.Ref, Msg: "malformed response"}
	}
	r := gjson.ParseBytes(raw)
	text := strings.TrimSpace(r.Get("response").String())
	if text == "" {
		return InferResponse{}, &InferenceError{Provider: catalog.ProviderOllama, Ref: h.Ref, Msg: "empty response"}
	}
	return InferResponse{
		Text:             text,
		Model:            r.Get("model").String(),
		PromptTokens:     int(r.Get("prompt_eval_count").Int()),
		CompletionTokens: int(r.Get("eval_count").Int()),
		Duration:         time.Since(start),
	}, nil
}

// Discover lists locally pulled models as catalog descriptors.
func (a *OllamaAdapter) Discover(ctx context.Context) ([]catalog.ModelDescriptor, error) {
	tags, err := a.listTags(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.ModelDescriptor, 0, len(tags))
	for _, m := range tags {
		caps := InferCapabilities(m.Name, append([]string{m.Details.Family}, m.Details.Families...)...)
		if len(caps) == 0 {
			continue
		}
		mem := uint64(float64(m.Size) * ollamaOverhead)
		if mem == 0 {
			mem = ollamaFallbackBytes
		}
		desc := m.Details.ParameterSize
		if m.Details.QuantizationLevel != "" {
			desc = strings.TrimSpace(desc + " " + m.Details.QuantizationLevel)
		}
		out = append(out, catalog.ModelDescriptor{
			ID:                     catalog.QualifiedID(catalog.ProviderOllama, m.Name),
			Provider:               catalog.ProviderOllama,
			Ref:                    m.Name,
			Capabilities:           caps,
			MinRequiredMemoryBytes: mem,
			RecommendedGPU:         bigEnoughForGPU(mem),
			DisplayName:            m.Name,
			Description:            desc,
		})
	}
	return out, nil
}
