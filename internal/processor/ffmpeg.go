package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"modelpilot/internal/catalog"
	"modelpilot/internal/config"
)

// FFmpeg implements FrameExtractor with the ffprobe and ffmpeg binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Logger      zerolog.Logger
}

func NewFFmpeg(ffmpegPath, ffprobePath string, log zerolog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Logger: log}
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (VideoMetadata, error) {
	out, err := f.run(ctx, f.FFprobePath, "video.ffprobe_path",
		"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		if config.IsConfigurationError(err) {
			return VideoMetadata{}, err
		}
		return VideoMetadata{}, unsupported(catalog.ModalityVideo, "probe failed: "+err.Error())
	}
	return parseProbe(out)
}

func (f *FFmpeg) Frame(ctx context.Context, path string, ts float64) ([]byte, error) {
	out, err := f.run(ctx, f.FFmpegPath, "video.ffmpeg_path",
		"-v", "error", "-ss", strconv.FormatFloat(ts, 'f', 3, 64), "-i", path,
		"-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no frame at %.3fs", ts)
	}
	return out, nil
}

func (f *FFmpeg) AudioTrack(ctx context.Context, path string) ([]byte, error) {
	return f.run(ctx, f.FFmpegPath, "video.ffmpeg_path",
		"-v", "error", "-i", path, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", "-")
}

func (f *FFmpeg) run(ctx context.Context, bin, field string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	f.Logger.Debug().Str("bin", bin).Strs("args", args).Msg("exec")
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, config.ErrConfiguration(field, bin+" not found in PATH")
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", bin, err)
	}
	return stdout.Bytes(), nil
}

// parseProbe reads ffprobe's JSON output.
func parseProbe(out []byte) (VideoMetadata, error) {
	if !gjson.ValidBytes(out) {
		return VideoMetadata{}, unsupported(catalog.ModalityVideo, "unreadable probe output")
	}
	doc := gjson.ParseBytes(out)
	video := doc.Get(`streams.#(codec_type=="video")`)
	if !video.Exists() {
		return VideoMetadata{}, unsupported(catalog.ModalityVideo, "no video stream")
	}
	meta := VideoMetadata{
		Width:    int(video.Get("width").Int()),
		Height:   int(video.Get("height").Int()),
		Codec:    video.Get("codec_name").String(),
		FPS:      parseRate(video.Get("avg_frame_rate").String()),
		HasAudio: doc.Get(`streams.#(codec_type=="audio")`).Exists(),
	}
	if meta.FPS == 0 {
		meta.FPS = parseRate(video.Get("r_frame_rate").String())
	}
	meta.DurationSeconds = doc.Get("format.duration").Float()
	if meta.DurationSeconds == 0 {
		meta.DurationSeconds = video.Get("duration").Float()
	}
	return meta, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
