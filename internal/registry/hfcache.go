// Package registry scans the local HuggingFace hub cache for downloaded
// model snapshots.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"modelpilot/internal/common/fsutil"
)

// CachedModel is one repository found in the hub cache.
type CachedModel struct {
	// Ref is the repo id, e.g. "Salesforce/blip-image-captioning-base".
	Ref         string
	Revision    string
	SnapshotDir string
	// WeightBytes sums the weight files in the snapshot.
	WeightBytes uint64
	Files       []string
}

var weightSuffixes = []string{".safetensors", ".bin", ".gguf", ".pt", ".pth", ".onnx", ".msgpack", ".h5"}

// IsWeightFile reports whether name looks like model weights.
func IsWeightFile(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range weightSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// RepoDirName maps "org/name" to the cache directory name "models--org--name".
func RepoDirName(ref string) string {
	return "models--" + strings.ReplaceAll(ref, "/", "--")
}

// RefFromDirName is the inverse of RepoDirName; ok is false for non-model dirs.
func RefFromDirName(name string) (string, bool) {
	if !strings.HasPrefix(name, "models--") {
		return "", false
	}
	return strings.ReplaceAll(strings.TrimPrefix(name, "models--"), "--", "/"), true
}

// HubDir returns <cacheDir>/hub after expanding a leading '~'.
func HubDir(cacheDir string) (string, error) {
	base, err := fsutil.ExpandHome(cacheDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	return filepath.Join(abs, "hub"), nil
}

// SnapshotDir is where revision rev of ref lives in the cache.
func SnapshotDir(cacheDir, ref, rev string) (string, error) {
	hub, err := HubDir(cacheDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(hub, RepoDirName(ref), "snapshots", rev), nil
}

// Lookup finds ref in the cache. The revision named by refs/<rev> is
// preferred, otherwise any snapshot holding weights.
func Lookup(cacheDir, ref, rev string) (CachedModel, bool) {
	hub, err := HubDir(cacheDir)
	if err != nil {
		return CachedModel{}, false
	}
	return lookupRepo(filepath.Join(hub, RepoDirName(ref)), ref, rev)
}

func lookupRepo(repoDir, ref, rev string) (CachedModel, bool) {
	snapRoot := filepath.Join(repoDir, "snapshots")
	var candidates []string
	if rev != "" {
		if b, err := os.ReadFile(filepath.Join(repoDir, "refs", rev)); err == nil {
			candidates = append(candidates, strings.TrimSpace(string(b)))
		}
		candidates = append(candidates, rev)
	}
	entries, err := os.ReadDir(snapRoot)
	if err != nil {
		return CachedModel{}, false
	}
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, e.Name())
		}
	}
	for _, c := range candidates {
		dir := filepath.Join(snapRoot, c)
		if !fsutil.PathExists(dir) {
			continue
		}
		m := CachedModel{Ref: ref, Revision: c, SnapshotDir: dir}
		_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, _ := filepath.Rel(dir, p)
			m.Files = append(m.Files, filepath.ToSlash(rel))
			if IsWeightFile(d.Name()) {
				// snapshots hold symlinks into blobs/; Stat follows them
				if fi, err := os.Stat(p); err == nil {
					m.WeightBytes += uint64(fi.Size())
				}
			}
			return nil
		})
		if m.WeightBytes > 0 {
			return m, true
		}
	}
	return CachedModel{}, false
}

// Scan lists every cached repository that holds weights, sorted by ref.
func Scan(cacheDir string) ([]CachedModel, error) {
	hub, err := HubDir(cacheDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(hub)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []CachedModel
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ref, ok := RefFromDirName(e.Name())
		if !ok {
			continue
		}
		if m, ok := lookupRepo(filepath.Join(hub, e.Name()), ref, "main"); ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}
