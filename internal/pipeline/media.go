package pipeline

import (
	"path/filepath"
	"strings"
)

// canonicalRoot makes root absolute and resolves its symlinks so later
// containment checks compare like with like.
func canonicalRoot(root string) string {
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	return filepath.Clean(root)
}

// resolvePath confines a caller-supplied path to the media root. Relative
// paths are taken from the root; symlinks are followed before the final
// check.
func (p *Pipeline) resolvePath(path string) (string, error) {
	if p.mediaRoot == "" {
		return "", &ValidationError{Field: "path", Msg: "path input is disabled; send data instead"}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.mediaRoot, path)
	}
	path = filepath.Clean(path)
	if !within(p.mediaRoot, path) {
		return "", &ValidationError{Field: "path", Msg: "outside the media root"}
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", &ValidationError{Field: "path", Msg: "not found under the media root"}
	}
	if !within(p.mediaRoot, real) {
		return "", &ValidationError{Field: "path", Msg: "outside the media root"}
	}
	return real, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
