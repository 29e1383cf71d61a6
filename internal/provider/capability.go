package provider

import (
	"strings"

	"modelpilot/internal/catalog"
)

var (
	visionPatterns = []string{"llava", "bakllava", "vision", "moondream", "minicpm-v", "qwen2-vl", "qwen2.5-vl", "gemma3", "llama4", "idefics", "paligemma", "blip", "florence", "smolvlm", "pixtral", "granite3.2-vision"}
	// image-only models produce captions but do not follow text prompts
	imageOnlyPatterns = []string{"blip", "vit-", "florence", "detr", "yolo"}
	videoPatterns     = []string{"qwen2-vl", "qwen2.5-vl", "llava-next-video", "video"}
	audioPatterns     = []string{"whisper", "wav2vec", "hubert", "speech", "seamless"}
	embedPatterns     = []string{"embed", "bge-", "e5-", "minilm"}
)

func containsAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// InferCapabilities guesses modalities from a model name and optional
// provider family tags. Embedding models get no capabilities.
func InferCapabilities(name string, families ...string) []catalog.Modality {
	n := strings.ToLower(name)
	if containsAny(n, embedPatterns) {
		return nil
	}
	if containsAny(n, audioPatterns) {
		return []catalog.Modality{catalog.ModalityAudio}
	}
	vision := containsAny(n, visionPatterns)
	for _, f := range families {
		f = strings.ToLower(f)
		if f == "clip" || f == "mllama" {
			vision = true
		}
	}
	if vision && containsAny(n, imageOnlyPatterns) {
		return []catalog.Modality{catalog.ModalityImage}
	}
	caps := []catalog.Modality{catalog.ModalityText}
	if vision {
		caps = []catalog.Modality{catalog.ModalityImage, catalog.ModalityText}
		if containsAny(n, videoPatterns) {
			caps = append(caps, catalog.ModalityVideo)
		}
	}
	return caps
}

// bigEnoughForGPU marks a model as GPU-recommended above 8GB.
func bigEnoughForGPU(bytes uint64) bool {
	return bytes >= 8*1024*mib
}

const mib = 1024 * 1024
