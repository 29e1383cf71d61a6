package types

// Model is a catalog entry as exposed by GET /models.
type Model struct {
	// Provider-qualified identifier.
	// example: ollama/llava:13b
	ID string `json:"id"`
	// Provider kind (ollama or huggingface).
	Provider string `json:"provider"`
	// Provider-native model reference.
	// example: llava:13b
	Ref string `json:"ref"`
	// Supported modalities (image, text, video, audio).
	Capabilities []string `json:"capabilities"`
	// Minimum memory required to load the model, in bytes.
	MinMemoryBytes uint64 `json:"min_memory_bytes"`
	// Whether a GPU is recommended for this model.
	RecommendedGPU bool   `json:"recommended_gpu"`
	DisplayName    string `json:"display_name,omitempty"`
	Description    string `json:"description,omitempty"`
	// seed or discovered.
	Source       string `json:"source"`
	LastSeenUnix int64  `json:"last_seen_unix,omitempty"`
}
