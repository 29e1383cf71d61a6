package processor

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rs/zerolog"

	"modelpilot/internal/catalog"
	"modelpilot/internal/manager"
	"modelpilot/internal/provider"
)

const (
	captionPrompt = "Describe this image in two or three sentences."
	objectsPrompt = `List the distinct objects visible in this image. Reply with JSON only: {"description": "<one sentence>", "objects": ["<label>", ...], "confidence": <0..1>}`
	scenePrompt   = `Classify the scene in this image (setting, indoor or outdoor, time of day, activity). Reply with JSON only: {"description": "<one sentence>", "scene": "<label>", "confidence": <0..1>}`
)

// ImageProcessor captions and inspects still images.
type ImageProcessor struct {
	models    Models
	log       zerolog.Logger
	maxTokens int
}

func NewImageProcessor(models Models, cfg Config) *ImageProcessor {
	return &ImageProcessor{models: models, log: cfg.Logger, maxTokens: cfg.MaxTokens}
}

func (p *ImageProcessor) Modality() catalog.Modality { return catalog.ModalityImage }

// ImageInfo is what validation learns about an image without decoding it.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// ValidateImage checks that data is a decodable image header.
func ValidateImage(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, unsupported(catalog.ModalityImage, "empty input")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, unsupported(catalog.ModalityImage, "unrecognized image format")
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return ImageInfo{}, unsupported(catalog.ModalityImage, "zero-sized image")
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func (p *ImageProcessor) Process(ctx context.Context, in Input, opts Options) *Result {
	start := time.Now()
	res := newResult(catalog.ModalityImage)
	defer func() { res.Duration = time.Since(start) }()

	info, err := ValidateImage(in.Data)
	if err != nil {
		return res.fail(err)
	}
	res.Metadata["format"] = info.Format
	res.Metadata["width"] = info.Width
	res.Metadata["height"] = info.Height

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()
	modelID, resp, err := infer(ctx, p.models, catalog.ModalityImage, opts.PreferredModelID, p.request(in.Data, in.Text, opts))
	res.ModelID = modelID
	if err != nil {
		return res.fail(err)
	}
	out, err := p.normalize(modelID, resp.Text)
	if err != nil {
		return res.fail(err)
	}
	res.RawOutput = resp.Text
	res.NormalizedText = out.text
	res.Confidence = out.confidence
	if len(out.objects) > 0 {
		res.Metadata["objects"] = out.objects
	}
	if scene, ok := out.fields["scene"]; ok {
		res.Metadata["scene"] = scene
	}
	return res
}

// analyzeFrame runs one inference on an already held handle.
func (p *ImageProcessor) analyzeFrame(ctx context.Context, h manager.Handle, data []byte, opts Options) (structured, error) {
	resp, err := p.models.Infer(ctx, h, p.request(data, "", opts))
	if err != nil {
		return structured{}, err
	}
	return p.normalize(h.ModelID(), resp.Text)
}

func (p *ImageProcessor) request(data []byte, text string, opts Options) provider.InferRequest {
	req := provider.InferRequest{Images: [][]byte{data}, MaxTokens: p.maxTokens}
	switch {
	case opts.ObjectDetection:
		req.Prompt, req.JSON = objectsPrompt, true
	case opts.SceneDetection:
		req.Prompt, req.JSON = scenePrompt, true
	default:
		req.Prompt = captionPrompt
	}
	question := strings.TrimSpace(opts.Prompt)
	if question == "" {
		question = strings.TrimSpace(text)
	}
	if question != "" {
		req.Prompt += "\nAlso answer: " + question
	}
	return req
}

func (p *ImageProcessor) normalize(modelID, raw string) (structured, error) {
	if strings.TrimSpace(raw) == "" {
		return structured{}, &InferenceError{ModelID: modelID, Msg: "empty model output"}
	}
	return parseStructured(raw, "description", "caption", "text"), nil
}
