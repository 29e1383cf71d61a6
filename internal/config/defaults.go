package config

import "time"

// Default returns a Config with every field populated.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}

	h := &c.Hardware
	if h.HighTierRAMMB == 0 {
		h.HighTierRAMMB = 16 * 1024
	}
	if h.MediumTierRAMMB == 0 {
		h.MediumTierRAMMB = 8 * 1024
	}
	if h.SafetyMarginPercent == 0 && h.SafetyMarginMB == 0 {
		h.SafetyMarginPercent = 10
	}
	if h.GPUKind == "" {
		h.GPUKind = "auto"
	}
	if h.DiskPath == "" {
		h.DiskPath = "~"
	}

	if c.Catalog.CacheTTL == 0 {
		c.Catalog.CacheTTL = Duration(24 * time.Hour)
	}

	o := &c.Ollama
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:11434"
	}
	if o.Timeout == 0 {
		o.Timeout = Duration(10 * time.Minute)
	}
	if o.TagsTTL == 0 {
		o.TagsTTL = Duration(30 * time.Second)
	}

	hf := &c.HuggingFace
	if hf.HubURL == "" {
		hf.HubURL = "https://huggingface.co"
	}
	if hf.InferenceURL == "" {
		hf.InferenceURL = "http://localhost:8000/v1"
	}
	if hf.CacheDir == "" {
		hf.CacheDir = "~/.cache/huggingface"
	}
	if hf.Revision == "" {
		hf.Revision = "main"
	}
	if hf.Timeout == 0 {
		hf.Timeout = Duration(10 * time.Minute)
	}

	m := &c.Manager
	if m.LoadTimeout == 0 {
		m.LoadTimeout = Duration(10 * time.Minute)
	}
	if m.MaxLoadAttempts == 0 {
		m.MaxLoadAttempts = 3
	}
	if m.RetryBackoff == 0 {
		m.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if m.RetryMaxBackoff == 0 {
		m.RetryMaxBackoff = Duration(8 * time.Second)
	}

	p := &c.Pipeline
	if p.Workers == 0 {
		p.Workers = 2
	}
	if p.QueueDepth == 0 {
		p.QueueDepth = 32
	}
	if p.JobRetention == 0 {
		p.JobRetention = Duration(time.Hour)
	}
	if p.ProcessTimeout == 0 {
		p.ProcessTimeout = Duration(5 * time.Minute)
	}
	if p.FrameConcurrency == 0 {
		p.FrameConcurrency = 4
	}
	if p.MaxBodyMB == 0 {
		p.MaxBodyMB = 64
	}

	v := &c.Video
	if v.FFmpegPath == "" {
		v.FFmpegPath = "ffmpeg"
	}
	if v.FFprobePath == "" {
		v.FFprobePath = "ffprobe"
	}
	if v.SampleInterval == 0 && v.SampleCount == 0 {
		v.SampleInterval = Duration(2 * time.Second)
	}
	if v.MaxFrames == 0 {
		v.MaxFrames = 32
	}
}
