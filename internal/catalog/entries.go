package catalog

import (
	"fmt"

	"modelpilot/internal/config"
)

const mib = 1024 * 1024

// DescriptorsFromEntries converts configuration seeds into descriptors.
// A bad entry yields a config.ConfigurationError.
func DescriptorsFromEntries(entries []config.ModelEntry) ([]ModelDescriptor, error) {
	out := make([]ModelDescriptor, 0, len(entries))
	for i, e := range entries {
		field := fmt.Sprintf("catalog.models[%d]", i)
		kind, err := ParseProviderKind(e.Provider)
		if err != nil {
			return nil, &config.ConfigurationError{Field: field, Reason: "bad provider", Err: err}
		}
		if e.Ref == "" {
			return nil, config.ErrConfiguration(field, "ref is required")
		}
		if len(e.Capabilities) == 0 {
			return nil, config.ErrConfiguration(field, "at least one capability is required")
		}
		caps := make([]Modality, 0, len(e.Capabilities))
		for _, c := range e.Capabilities {
			m, err := ParseModality(c)
			if err != nil {
				return nil, &config.ConfigurationError{Field: field, Reason: "bad capability", Err: err}
			}
			caps = append(caps, m)
		}
		id := normalizeID(kind, e.ID, e.Ref)
		name := e.DisplayName
		if name == "" {
			name = e.Ref
		}
		out = append(out, ModelDescriptor{
			ID:                     id,
			Provider:               kind,
			Ref:                    e.Ref,
			Capabilities:           caps,
			MinRequiredMemoryBytes: uint64(e.MinMemoryMB) * mib,
			RecommendedGPU:         e.RecommendedGPU,
			DisplayName:            name,
			Description:            e.Description,
			Source:                 SourceSeed,
		})
	}
	return out, nil
}

// DefaultSeeds is used when no seed models are configured.
func DefaultSeeds() []ModelDescriptor {
	seeds, _ := DescriptorsFromEntries([]config.ModelEntry{
		{Provider: "ollama", Ref: "llava:13b", Capabilities: []string{"image", "text"}, MinMemoryMB: 10240, RecommendedGPU: true, DisplayName: "LLaVA 13B", Description: "Large vision-language model"},
		{Provider: "huggingface", Ref: "Qwen/Qwen2-VL-7B-Instruct", Capabilities: []string{"image", "text", "video"}, MinMemoryMB: 16384, RecommendedGPU: true, DisplayName: "Qwen2-VL 7B", Description: "Vision-language model with native video input"},
		{Provider: "ollama", Ref: "llava:7b", Capabilities: []string{"image", "text"}, MinMemoryMB: 5120, DisplayName: "LLaVA 7B", Description: "Vision-language model"},
		{Provider: "ollama", Ref: "moondream", Capabilities: []string{"image", "text"}, MinMemoryMB: 1800, DisplayName: "Moondream 2", Description: "Small vision model for constrained hosts"},
		{Provider: "huggingface", Ref: "Salesforce/blip-image-captioning-base", Capabilities: []string{"image"}, MinMemoryMB: 1024, DisplayName: "BLIP captioning", Description: "Image captioning"},
		{Provider: "ollama", Ref: "llama3.1:8b", Capabilities: []string{"text"}, MinMemoryMB: 5632, DisplayName: "Llama 3.1 8B", Description: "General text model"},
		{Provider: "ollama", Ref: "llama3.2:3b", Capabilities: []string{"text"}, MinMemoryMB: 2560, DisplayName: "Llama 3.2 3B", Description: "Compact text model"},
		{Provider: "ollama", Ref: "phi3:mini", Capabilities: []string{"text"}, MinMemoryMB: 2355, DisplayName: "Phi-3 Mini", Description: "Compact text model"},
		{Provider: "huggingface", Ref: "openai/whisper-small", Capabilities: []string{"audio"}, MinMemoryMB: 1024, DisplayName: "Whisper small", Description: "Speech recognition"},
	})
	return seeds
}
