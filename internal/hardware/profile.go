// Package hardware inspects the host and classifies it into a capability tier.
package hardware

import "time"

// GPUKind names the accelerator backend available to model providers.
type GPUKind string

const (
	GPUNone     GPUKind = "none"
	GPUCUDA     GPUKind = "cuda"
	GPUMPS      GPUKind = "mps"
	GPUDirectML GPUKind = "directml"
)

// Tier is a coarse hardware classification driving model selection.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Profile is an immutable snapshot of host capacity. Consumers receive it
// by value.
type Profile struct {
	HasGPU            bool      `json:"has_gpu"`
	GPUKind           GPUKind   `json:"gpu_kind"`
	GPUName           string    `json:"gpu_name,omitempty"`
	VRAMBytes         uint64    `json:"vram_bytes,omitempty"`
	TotalRAMBytes     uint64    `json:"total_ram_bytes"`
	AvailableRAMBytes uint64    `json:"available_ram_bytes"`
	DiskFreeBytes     uint64    `json:"disk_free_bytes"`
	CPUCores          int       `json:"cpu_cores"`
	Tier              Tier      `json:"tier"`
	ProfiledAt        time.Time `json:"profiled_at"`
	// Degraded lists probes that failed and fell back to conservative values.
	Degraded []string `json:"degraded,omitempty"`
}

// Thresholds on available RAM for tier classification.
type Thresholds struct {
	HighRAMBytes   uint64
	MediumRAMBytes uint64
}

const mib = 1024 * 1024

// DefaultThresholds returns 16GB (high) and 8GB (medium).
func DefaultThresholds() Thresholds {
	return Thresholds{HighRAMBytes: 16 * 1024 * mib, MediumRAMBytes: 8 * 1024 * mib}
}

// ThresholdsMB builds Thresholds from megabyte values.
func ThresholdsMB(highMB, mediumMB int) Thresholds {
	return Thresholds{HighRAMBytes: uint64(highMB) * mib, MediumRAMBytes: uint64(mediumMB) * mib}
}

// ClassifyTier applies th. High needs a GPU as well as RAM; Medium only RAM.
func ClassifyTier(hasGPU bool, availableRAM uint64, th Thresholds) Tier {
	switch {
	case hasGPU && availableRAM >= th.HighRAMBytes:
		return TierHigh
	case availableRAM >= th.MediumRAMBytes:
		return TierMedium
	default:
		return TierLow
	}
}
