package types

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// Models in selection order when a capability filter is given.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error"`
	// HTTP status code.
	// example: 400
	Code int `json:"code"`
}

// InstanceStatus summarizes a loaded or loading model for /status.
type InstanceStatus struct {
	// example: ollama/llava:13b
	ModelID  string `json:"model_id"`
	Provider string `json:"provider"`
	// loading or ready.
	State string `json:"state"`
	// Number of callers currently holding the model.
	Refs           int    `json:"refs"`
	LoadedAtUnix   int64  `json:"loaded_at_unix,omitempty"`
	LastUsedUnix   int64  `json:"last_used_unix"`
	EstimatedBytes uint64 `json:"estimated_bytes"`
	// Memory reported by the provider after load, when known.
	ActualBytes uint64 `json:"actual_bytes,omitempty"`
	// Download/load progress in percent while loading.
	ProgressPercent float64 `json:"progress_percent,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall manager state (initializing, ready, shutting_down).
	State     string           `json:"state"`
	Instances []InstanceStatus `json:"instances"`
	// Profiled available RAM the budget starts from.
	BaselineBytes     uint64 `json:"baseline_bytes"`
	InUseBytes        uint64 `json:"in_use_bytes"`
	SafetyMarginBytes uint64 `json:"safety_margin_bytes"`
	// Headroom left for new loads.
	AvailableBytes    uint64 `json:"available_bytes"`
	LoadsTotal        uint64 `json:"loads_total"`
	LoadFailuresTotal uint64 `json:"load_failures_total"`
	EvictionsTotal    uint64 `json:"evictions_total"`
	LoadingCount      int    `json:"loading_count"`
	// Last load error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds  int64 `json:"uptime_seconds"`
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// JobOptions toggles processing steps for a job.
type JobOptions struct {
	ExtractFrames        bool `json:"extract_frames,omitempty"`
	ObjectDetection      bool `json:"object_detection,omitempty"`
	SceneDetection       bool `json:"scene_detection,omitempty"`
	TextAnalysis         bool `json:"text_analysis,omitempty"`
	MultimodalAnalysis   bool `json:"multimodal_analysis,omitempty"`
	ContentSummarization bool `json:"content_summarization,omitempty"`
	AudioAnalysis        bool `json:"audio_analysis,omitempty"`
	// Optional model id tried first.
	PreferredModel string `json:"preferred_model,omitempty"`
	// Optional free-form question passed to multimodal prompts.
	Prompt string `json:"prompt,omitempty"`
	// Frame sampling overrides for video input.
	FrameIntervalSeconds float64 `json:"frame_interval_seconds,omitempty"`
	FrameCount           int     `json:"frame_count,omitempty"`
	TimeoutSeconds       int     `json:"timeout_seconds,omitempty"`
}

// JobRequest is the body of POST /jobs. Exactly one of Data or Path carries
// media; Text may accompany either or stand alone.
type JobRequest struct {
	// image, video, audio or text; sniffed when empty.
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=image video audio text"`
	// Base64-encoded media bytes.
	Data []byte `json:"data,omitempty"`
	// File under the server's media root; absolute or relative to it.
	Path     string     `json:"path,omitempty"`
	Filename string     `json:"filename,omitempty"`
	Text     string     `json:"text,omitempty"`
	Options  JobOptions `json:"options"`
}

// JobStatus is returned by POST /jobs and GET /jobs/{id}.
type JobStatus struct {
	ID    string `json:"id"`
	State string `json:"state"`
	// Progress in [0,1].
	Progress      float64  `json:"progress"`
	Modalities    []string `json:"modalities,omitempty"`
	Error         string   `json:"error,omitempty"`
	CreatedAtUnix int64    `json:"created_at_unix"`
	UpdatedAtUnix int64    `json:"updated_at_unix"`
}

// JobsResponse wraps GET /jobs.
type JobsResponse struct {
	Jobs []JobStatus `json:"jobs"`
}
