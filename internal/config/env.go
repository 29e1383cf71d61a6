package config

import (
	"os"
	"strings"
)

// ApplyEnv overrides fields from well-known environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MODELPILOT_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("MODELPILOT_MEDIA_ROOT"); v != "" {
		c.Pipeline.MediaRoot = v
	}
	if v := os.Getenv("MODELPILOT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		c.HuggingFace.Token = v
	} else if v := os.Getenv("HUGGING_FACE_HUB_TOKEN"); v != "" {
		c.HuggingFace.Token = v
	}
	if v := os.Getenv("HF_HOME"); v != "" {
		c.HuggingFace.CacheDir = v
	}
	if v := os.Getenv("HF_INFERENCE_URL"); v != "" {
		c.HuggingFace.InferenceURL = v
	}
}
