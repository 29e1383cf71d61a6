package hardware

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// GPUInfo is what a GPU probe reports.
type GPUInfo struct {
	Kind      GPUKind
	Name      string
	VRAMBytes uint64
}

// Probes are the individual detection steps. Any nil probe uses the host
// implementation.
type Probes struct {
	Memory func(ctx context.Context) (total, available uint64, err error)
	Disk   func(ctx context.Context, path string) (free uint64, err error)
	CPU    func(ctx context.Context) (int, error)
	GPU    func(ctx context.Context) (GPUInfo, error)
}

func (p Probes) withHostDefaults() Probes {
	if p.Memory == nil {
		p.Memory = hostMemory
	}
	if p.Disk == nil {
		p.Disk = hostDisk
	}
	if p.CPU == nil {
		p.CPU = hostCPU
	}
	if p.GPU == nil {
		p.GPU = hostGPU
	}
	return p
}

func hostMemory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Available, nil
}

func hostDisk(ctx context.Context, path string) (uint64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

func hostCPU(ctx context.Context) (int, error) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU(), err
	}
	return n, nil
}

// hostGPU tries CUDA first, then platform backends.
func hostGPU(ctx context.Context) (GPUInfo, error) {
	if info, err := detectCUDA(ctx); err == nil {
		return info, nil
	}
	switch {
	case runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
		return GPUInfo{Kind: GPUMPS, Name: "Apple Silicon"}, nil
	case runtime.GOOS == "windows":
		return detectDirectML(ctx)
	}
	return GPUInfo{Kind: GPUNone}, nil
}

func detectCUDA(ctx context.Context) (GPUInfo, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=memory.total,name", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return GPUInfo{}, err
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI reads the first line of "8192, NVIDIA GeForce RTX 3070".
func parseNvidiaSMI(out string) (GPUInfo, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	parts := strings.SplitN(line, ",", 2)
	if len(parts) < 2 {
		return GPUInfo{}, errUnparsable(line)
	}
	vramMB, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return GPUInfo{}, err
	}
	return GPUInfo{Kind: GPUCUDA, Name: strings.TrimSpace(parts[1]), VRAMBytes: vramMB * mib}, nil
}

func detectDirectML(ctx context.Context) (GPUInfo, error) {
	out, err := exec.CommandContext(ctx, "wmic", "path", "win32_VideoController", "get", "name").Output()
	if err != nil {
		return GPUInfo{Kind: GPUNone}, err
	}
	for _, l := range strings.Split(string(out), "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.EqualFold(l, "name") || strings.Contains(strings.ToLower(l), "basic display") {
			continue
		}
		return GPUInfo{Kind: GPUDirectML, Name: l}, nil
	}
	return GPUInfo{Kind: GPUNone}, nil
}

type errUnparsable string

func (e errUnparsable) Error() string { return "unparsable gpu probe output: " + string(e) }
