package pipeline

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"modelpilot/internal/catalog"
	"modelpilot/internal/processor"
)

var extKinds = map[string]catalog.Modality{
	".png": catalog.ModalityImage, ".jpg": catalog.ModalityImage, ".jpeg": catalog.ModalityImage,
	".gif": catalog.ModalityImage, ".bmp": catalog.ModalityImage, ".tif": catalog.ModalityImage,
	".tiff": catalog.ModalityImage, ".webp": catalog.ModalityImage,
	".mp4": catalog.ModalityVideo, ".mov": catalog.ModalityVideo, ".mkv": catalog.ModalityVideo,
	".webm": catalog.ModalityVideo, ".avi": catalog.ModalityVideo, ".m4v": catalog.ModalityVideo,
	".wav": catalog.ModalityAudio, ".mp3": catalog.ModalityAudio, ".flac": catalog.ModalityAudio,
	".ogg": catalog.ModalityAudio, ".m4a": catalog.ModalityAudio, ".opus": catalog.ModalityAudio,
	".txt": catalog.ModalityText, ".md": catalog.ModalityText,
}

// Detect decides which modality an input is. An explicit Kind wins, then
// the file extension, then content sniffing.
func Detect(in Input) (catalog.Modality, error) {
	if in.Kind != "" {
		k, err := catalog.ParseModality(string(in.Kind))
		if err != nil {
			return "", &ValidationError{Field: "kind", Msg: err.Error()}
		}
		return k, nil
	}
	name := in.Filename
	if name == "" {
		name = in.Path
	}
	if k, ok := extKinds[strings.ToLower(filepath.Ext(name))]; ok {
		return k, nil
	}
	head := in.Data
	if len(head) == 0 && in.Path != "" {
		var err error
		if head, err = readHead(in.Path); err != nil {
			return "", &processor.UnsupportedFormatError{Reason: err.Error()}
		}
	}
	if len(head) == 0 {
		if strings.TrimSpace(in.Text) != "" {
			return catalog.ModalityText, nil
		}
		return "", &processor.UnsupportedFormatError{Reason: "no media or text"}
	}
	if k, ok := sniff(head); ok {
		return k, nil
	}
	return "", &processor.UnsupportedFormatError{Reason: "cannot determine input kind"}
}

func sniff(b []byte) (catalog.Modality, bool) {
	if _, err := processor.SniffAudio(b); err == nil && !isMP4(b) {
		return catalog.ModalityAudio, true
	}
	ct := http.DetectContentType(b)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return catalog.ModalityImage, true
	case strings.HasPrefix(ct, "video/"):
		return catalog.ModalityVideo, true
	case strings.HasPrefix(ct, "audio/"), ct == "application/ogg":
		return catalog.ModalityAudio, true
	case strings.HasPrefix(ct, "text/plain"):
		return catalog.ModalityText, true
	}
	return "", false
}

// isMP4 spots ISO media files, which SniffAudio reports as m4a.
func isMP4(b []byte) bool {
	return len(b) >= 12 && string(b[4:8]) == "ftyp" && !strings.HasPrefix(string(b[8:12]), "M4A")
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
