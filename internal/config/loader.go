package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr        string            `json:"addr" yaml:"addr" toml:"addr" validate:"required"`
	Log         LogConfig         `json:"log" yaml:"log" toml:"log"`
	CORS        CORSConfig        `json:"cors" yaml:"cors" toml:"cors"`
	Hardware    HardwareConfig    `json:"hardware" yaml:"hardware" toml:"hardware"`
	Catalog     CatalogConfig     `json:"catalog" yaml:"catalog" toml:"catalog"`
	Ollama      OllamaConfig      `json:"ollama" yaml:"ollama" toml:"ollama"`
	HuggingFace HuggingFaceConfig `json:"huggingface" yaml:"huggingface" toml:"huggingface"`
	Manager     ManagerConfig     `json:"manager" yaml:"manager" toml:"manager"`
	Pipeline    PipelineConfig    `json:"pipeline" yaml:"pipeline" toml:"pipeline"`
	Video       VideoConfig       `json:"video" yaml:"video" toml:"video"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" toml:"format" validate:"omitempty,oneof=console json"`
	// File enables rotating file output in addition to stderr.
	File       string `json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups" validate:"gte=0"`
}

type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// HardwareConfig carries tier thresholds and the memory safety margin.
type HardwareConfig struct {
	HighTierRAMMB   int `json:"high_tier_ram_mb" yaml:"high_tier_ram_mb" toml:"high_tier_ram_mb" validate:"gte=0"`
	MediumTierRAMMB int `json:"medium_tier_ram_mb" yaml:"medium_tier_ram_mb" toml:"medium_tier_ram_mb" validate:"gte=0,ltefield=HighTierRAMMB"`
	// SafetyMarginPercent of total RAM kept free; the larger of this and
	// SafetyMarginMB wins.
	SafetyMarginPercent float64 `json:"safety_margin_percent" yaml:"safety_margin_percent" toml:"safety_margin_percent" validate:"gte=0,lt=100"`
	SafetyMarginMB      int     `json:"safety_margin_mb" yaml:"safety_margin_mb" toml:"safety_margin_mb" validate:"gte=0"`
	GPUKind             string  `json:"gpu_kind" yaml:"gpu_kind" toml:"gpu_kind" validate:"omitempty,oneof=auto none cuda mps directml"`
	DiskPath            string  `json:"disk_path" yaml:"disk_path" toml:"disk_path"`
}

type CatalogConfig struct {
	SeedFile string       `json:"seed_file" yaml:"seed_file" toml:"seed_file"`
	Models   []ModelEntry `json:"models" yaml:"models" toml:"models" validate:"dive"`
	// CacheDir holds the discovered-model cache. Empty disables persistence.
	CacheDir string   `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	CacheTTL Duration `json:"cache_ttl" yaml:"cache_ttl" toml:"cache_ttl"`
	Watch    bool     `json:"watch" yaml:"watch" toml:"watch"`
}

// ModelEntry is a static catalog seed.
type ModelEntry struct {
	ID             string   `json:"id" yaml:"id" toml:"id"`
	Provider       string   `json:"provider" yaml:"provider" toml:"provider" validate:"required,oneof=ollama huggingface"`
	Ref            string   `json:"ref" yaml:"ref" toml:"ref" validate:"required"`
	Capabilities   []string `json:"capabilities" yaml:"capabilities" toml:"capabilities" validate:"required,min=1,dive,oneof=image text video audio"`
	MinMemoryMB    int      `json:"min_memory_mb" yaml:"min_memory_mb" toml:"min_memory_mb" validate:"gte=0"`
	RecommendedGPU bool     `json:"recommended_gpu" yaml:"recommended_gpu" toml:"recommended_gpu"`
	DisplayName    string   `json:"display_name" yaml:"display_name" toml:"display_name"`
	Description    string   `json:"description" yaml:"description" toml:"description"`
}

type OllamaConfig struct {
	Disabled    bool     `json:"disabled" yaml:"disabled" toml:"disabled"`
	BaseURL     string   `json:"base_url" yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	Timeout     Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	TagsTTL     Duration `json:"tags_ttl" yaml:"tags_ttl" toml:"tags_ttl"`
	PullMissing bool     `json:"pull_missing" yaml:"pull_missing" toml:"pull_missing"`
}

type HuggingFaceConfig struct {
	Disabled     bool   `json:"disabled" yaml:"disabled" toml:"disabled"`
	HubURL       string `json:"hub_url" yaml:"hub_url" toml:"hub_url" validate:"omitempty,url"`
	InferenceURL string `json:"inference_url" yaml:"inference_url" toml:"inference_url" validate:"omitempty,url"`
	Token        string `json:"token" yaml:"token" toml:"token"`
	// RequireToken turns a missing token into a startup error.
	RequireToken bool     `json:"require_token" yaml:"require_token" toml:"require_token"`
	CacheDir     string   `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	Revision     string   `json:"revision" yaml:"revision" toml:"revision"`
	Timeout      Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

type ManagerConfig struct {
	LoadTimeout     Duration `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
	MaxLoadAttempts int      `json:"max_load_attempts" yaml:"max_load_attempts" toml:"max_load_attempts" validate:"gte=0,lte=10"`
	RetryBackoff    Duration `json:"retry_backoff" yaml:"retry_backoff" toml:"retry_backoff"`
	RetryMaxBackoff Duration `json:"retry_max_backoff" yaml:"retry_max_backoff" toml:"retry_max_backoff"`
	LRUFile         string   `json:"lru_file" yaml:"lru_file" toml:"lru_file"`
}

type PipelineConfig struct {
	Workers          int      `json:"workers" yaml:"workers" toml:"workers" validate:"gte=0"`
	QueueDepth       int      `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth" validate:"gte=0"`
	JobRetention     Duration `json:"job_retention" yaml:"job_retention" toml:"job_retention"`
	ProcessTimeout   Duration `json:"process_timeout" yaml:"process_timeout" toml:"process_timeout"`
	FrameConcurrency int      `json:"frame_concurrency" yaml:"frame_concurrency" toml:"frame_concurrency" validate:"gte=0"`
	MaxBodyMB        int      `json:"max_body_mb" yaml:"max_body_mb" toml:"max_body_mb" validate:"gte=0"`
	// MediaRoot is the only directory job paths may point into. Empty
	// disables path input; clients send data instead.
	MediaRoot string `json:"media_root" yaml:"media_root" toml:"media_root"`
}

type VideoConfig struct {
	FFmpegPath     string   `json:"ffmpeg_path" yaml:"ffmpeg_path" toml:"ffmpeg_path"`
	FFprobePath    string   `json:"ffprobe_path" yaml:"ffprobe_path" toml:"ffprobe_path"`
	SampleInterval Duration `json:"sample_interval" yaml:"sample_interval" toml:"sample_interval"`
	SampleCount    int      `json:"sample_count" yaml:"sample_count" toml:"sample_count" validate:"gte=0"`
	MaxFrames      int      `json:"max_frames" yaml:"max_frames" toml:"max_frames" validate:"gte=0"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// LoadModels reads a standalone seed file holding a list of ModelEntry values
// under a top-level "models" key.
func LoadModels(path string) ([]ModelEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Models []ModelEntry `json:"models" yaml:"models" toml:"models"`
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &doc)
	case ".json":
		err = json.Unmarshal(b, &doc)
	case ".toml":
		err = toml.Unmarshal(b, &doc)
	default:
		return nil, fmt.Errorf("unsupported seed extension: %s", ext)
	}
	if err != nil {
		return nil, &ConfigurationError{Field: "catalog.seed_file", Reason: "unreadable seed file", Err: err}
	}
	for i, e := range doc.Models {
		if err := validate.Struct(e); err != nil {
			return nil, &ConfigurationError{Field: fmt.Sprintf("models[%d]", i), Reason: "invalid model entry", Err: err}
		}
	}
	return doc.Models, nil
}
