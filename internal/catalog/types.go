// Package catalog holds the static and discovered metadata about candidate
// models and orders them for selection.
package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Modality is a category of input data.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityText  Modality = "text"
	ModalityVideo Modality = "video"
	ModalityAudio Modality = "audio"
)

// ParseModality accepts the lower-case modality names.
func ParseModality(s string) (Modality, error) {
	switch m := Modality(strings.ToLower(strings.TrimSpace(s))); m {
	case ModalityImage, ModalityText, ModalityVideo, ModalityAudio:
		return m, nil
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// ProviderKind identifies the serving backend. It is resolved once when a
// descriptor is created.
type ProviderKind string

const (
	ProviderOllama      ProviderKind = "ollama"
	ProviderHuggingFace ProviderKind = "huggingface"
)

func ParseProviderKind(s string) (ProviderKind, error) {
	switch k := ProviderKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ProviderOllama, ProviderHuggingFace:
		return k, nil
	case "hf":
		return ProviderHuggingFace, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Source records where a descriptor came from.
type Source string

const (
	SourceSeed       Source = "seed"
	SourceDiscovered Source = "discovered"
)

// ModelDescriptor is one catalog entry.
type ModelDescriptor struct {
	// ID is provider-qualified, e.g. "ollama/llava:7b".
	ID       string       `json:"id"`
	Provider ProviderKind `json:"provider"`
	// Ref is the provider-native model name ("llava:7b", "Salesforce/blip-image-captioning-base").
	Ref                    string     `json:"ref"`
	Capabilities           []Modality `json:"capabilities"`
	MinRequiredMemoryBytes uint64     `json:"min_required_memory_bytes"`
	RecommendedGPU         bool       `json:"recommended_gpu"`
	DisplayName            string     `json:"display_name,omitempty"`
	Description            string     `json:"description,omitempty"`
	Source                 Source     `json:"source"`
	LastSeen               time.Time  `json:"last_seen,omitempty"`
}

// Supports reports whether m is in the capability set.
func (d ModelDescriptor) Supports(m Modality) bool {
	for _, c := range d.Capabilities {
		if c == m {
			return true
		}
	}
	return false
}

// QualifiedID builds the catalog id for a provider-native ref.
func QualifiedID(p ProviderKind, ref string) string {
	return string(p) + "/" + ref
}

// normalizeID returns id in "<provider>/<name>" form. An empty id falls back
// to the provider ref.
func normalizeID(p ProviderKind, id, ref string) string {
	if id == "" {
		id = ref
	}
	if id == "" || strings.HasPrefix(id, string(p)+"/") {
		return id
	}
	return QualifiedID(p, id)
}
