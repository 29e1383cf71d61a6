package processor

import "context"

// VideoMetadata is what probing learns about a video before sampling.
type VideoMetadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPS             float64 `json:"fps"`
	Codec           string  `json:"codec,omitempty"`
	HasAudio        bool    `json:"has_audio"`
}

// FrameExtractor reads metadata, single frames and the audio track from a
// video file.
type FrameExtractor interface {
	Probe(ctx context.Context, path string) (VideoMetadata, error)
	// Frame returns the frame at ts seconds as an encoded image.
	Frame(ctx context.Context, path string, ts float64) ([]byte, error)
	// AudioTrack returns the audio as 16kHz mono WAV.
	AudioTrack(ctx context.Context, path string) ([]byte, error)
}
