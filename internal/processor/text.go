package processor

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"modelpilot/internal/catalog"
	"modelpilot/internal/provider"
)

const (
	summarizePrompt = "Summarize the following text in at most five sentences.\n\n"
	analyzePrompt   = `Analyze the following text. Reply with JSON only: {"summary": "<two sentences>", "topics": ["<topic>", ...], "sentiment": "positive|neutral|negative", "confidence": <0..1>}` + "\n\n"
	maxTextBytes    = 256 << 10
)

// TextProcessor summarizes and analyses text.
type TextProcessor struct {
	models    Models
	log       zerolog.Logger
	maxTokens int
}

func NewTextProcessor(models Models, cfg Config) *TextProcessor {
	return &TextProcessor{models: models, log: cfg.Logger, maxTokens: cfg.MaxTokens}
}

func (p *TextProcessor) Modality() catalog.Modality { return catalog.ModalityText }

// ValidateText rejects empty, oversized or non-UTF-8 input.
func ValidateText(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return unsupported(catalog.ModalityText, "empty input")
	case !utf8.ValidString(s):
		return unsupported(catalog.ModalityText, "not valid UTF-8")
	case len(s) > maxTextBytes:
		return unsupported(catalog.ModalityText, "input too large")
	}
	return nil
}

func (p *TextProcessor) Process(ctx context.Context, in Input, opts Options) *Result {
	start := time.Now()
	res := newResult(catalog.ModalityText)
	defer func() { res.Duration = time.Since(start) }()

	text := in.Text
	if text == "" && len(in.Data) > 0 {
		text = string(in.Data)
	}
	if err := ValidateText(text); err != nil {
		return res.fail(err)
	}
	res.Metadata["chars"] = utf8.RuneCountInString(text)

	prompt := analyzePrompt
	if opts.Summarize && !opts.Analyze {
		prompt = summarizePrompt
	}
	if q := strings.TrimSpace(opts.Prompt); q != "" {
		prompt = q + "\n\n"
	}

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()
	modelID, raw, err := p.complete(ctx, prompt+text, opts.PreferredModelID, prompt == analyzePrompt)
	res.ModelID = modelID
	if err != nil {
		return res.fail(err)
	}
	out := parseStructured(raw, "summary", "text")
	res.RawOutput = raw
	res.NormalizedText = out.text
	res.Confidence = out.confidence
	for _, k := range []string{"topics", "sentiment"} {
		if v, ok := out.fields[k]; ok {
			res.Metadata[k] = v
		}
	}
	return res
}

// complete runs one prompt through a text-capable model.
func (p *TextProcessor) complete(ctx context.Context, prompt, preferred string, jsonOut bool) (string, string, error) {
	modelID, resp, err := infer(ctx, p.models, catalog.ModalityText, preferred, provider.InferRequest{
		Prompt:    prompt,
		MaxTokens: p.maxTokens,
		JSON:      jsonOut,
	})
	if err != nil {
		return modelID, "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return modelID, "", &InferenceError{ModelID: modelID, Msg: "empty model output"}
	}
	return modelID, resp.Text, nil
}
