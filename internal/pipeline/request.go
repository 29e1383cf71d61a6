package pipeline

import (
	"time"

	"modelpilot/internal/catalog"
	"modelpilot/internal/processor"
	"modelpilot/pkg/types"
)

// FromRequest converts an API job request into pipeline input and options.
func FromRequest(req types.JobRequest) (Input, Options, error) {
	in := Input{Data: req.Data, Path: req.Path, Filename: req.Filename, Text: req.Text}
	if req.Kind != "" {
		k, err := catalog.ParseModality(req.Kind)
		if err != nil {
			return Input{}, Options{}, &ValidationError{Field: "kind", Msg: err.Error()}
		}
		in.Kind = k
	}
	if len(in.Data) == 0 && in.Path == "" && in.Text == "" {
		return Input{}, Options{}, &ValidationError{Msg: "one of data, path or text is required"}
	}
	o := req.Options
	switch {
	case o.FrameIntervalSeconds < 0:
		return Input{}, Options{}, &ValidationError{Field: "options.frame_interval_seconds", Msg: "must not be negative"}
	case o.FrameCount < 0:
		return Input{}, Options{}, &ValidationError{Field: "options.frame_count", Msg: "must not be negative"}
	case o.TimeoutSeconds < 0:
		return Input{}, Options{}, &ValidationError{Field: "options.timeout_seconds", Msg: "must not be negative"}
	}
	return in, Options{
		ExtractFrames:        o.ExtractFrames,
		ObjectDetection:      o.ObjectDetection,
		SceneDetection:       o.SceneDetection,
		TextAnalysis:         o.TextAnalysis,
		MultimodalAnalysis:   o.MultimodalAnalysis,
		ContentSummarization: o.ContentSummarization,
		AudioAnalysis:        o.AudioAnalysis,
		PreferredModelID:     o.PreferredModel,
		Prompt:               o.Prompt,
		Sampling: processor.Sampling{
			Interval: time.Duration(o.FrameIntervalSeconds * float64(time.Second)),
			Count:    o.FrameCount,
		},
		Timeout: time.Duration(o.TimeoutSeconds) * time.Second,
	}, nil
}
