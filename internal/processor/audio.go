package processor

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelpilot/internal/catalog"
	"modelpilot/internal/provider"
)

// AudioProcessor transcribes speech.
type AudioProcessor struct {
	models Models
	log    zerolog.Logger
}

func NewAudioProcessor(models Models, cfg Config) *AudioProcessor {
	return &AudioProcessor{models: models, log: cfg.Logger}
}

func (p *AudioProcessor) Modality() catalog.Modality { return catalog.ModalityAudio }

// SniffAudio names the container of data from its leading bytes.
func SniffAudio(data []byte) (string, error) {
	switch {
	case len(data) < 12:
		return "", unsupported(catalog.ModalityAudio, "input too short")
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "wav", nil
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "flac", nil
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg", nil
	case bytes.HasPrefix(data, []byte("ID3")), data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3", nil
	case bytes.Equal(data[4:8], []byte("ftyp")):
		return "m4a", nil
	}
	return "", unsupported(catalog.ModalityAudio, "unrecognized audio format")
}

func (p *AudioProcessor) Process(ctx context.Context, in Input, opts Options) *Result {
	start := time.Now()
	res := newResult(catalog.ModalityAudio)
	defer func() { res.Duration = time.Since(start) }()

	format, err := SniffAudio(in.Data)
	if err != nil {
		return res.fail(err)
	}
	res.Metadata["format"] = format
	res.Metadata["bytes"] = len(in.Data)

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()
	modelID, resp, err := infer(ctx, p.models, catalog.ModalityAudio, opts.PreferredModelID, provider.InferRequest{
		Prompt:      opts.Prompt,
		Audio:       in.Data,
		AudioFormat: format,
	})
	res.ModelID = modelID
	if err != nil {
		return res.fail(err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return res.fail(&InferenceError{ModelID: modelID, Msg: "empty transcript"})
	}
	res.RawOutput = resp.Text
	res.NormalizedText = text
	return res
}
