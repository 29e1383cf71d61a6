package processor

import (
	"bytes"
	"io"
	"os"

	"modelpilot/internal/catalog"
)

// VideoSource is a local file path or a byte stream. Streams are spooled to
// a temp file because the frame extractor seeks.
type VideoSource struct {
	Path   string
	Reader io.Reader
}

// BytesSource wraps in-memory video bytes.
func BytesSource(b []byte) VideoSource { return VideoSource{Reader: bytes.NewReader(b)} }

func (s VideoSource) empty() bool { return s.Path == "" && s.Reader == nil }

// open returns a seekable path for the source and a cleanup func.
func (s VideoSource) open(tempDir string) (string, func(), error) {
	if s.Path != "" {
		fi, err := os.Stat(s.Path)
		switch {
		case err != nil:
			return "", nil, unsupported(catalog.ModalityVideo, "source not readable: "+err.Error())
		case fi.IsDir():
			return "", nil, unsupported(catalog.ModalityVideo, "source is a directory")
		case fi.Size() == 0:
			return "", nil, unsupported(catalog.ModalityVideo, "empty input")
		}
		return s.Path, func() {}, nil
	}
	if s.Reader == nil {
		return "", nil, unsupported(catalog.ModalityVideo, "no video source")
	}
	f, err := os.CreateTemp(tempDir, "modelpilot-video-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	n, err := io.Copy(f, s.Reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = unsupported(catalog.ModalityVideo, "empty input")
	}
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}
