package pipeline

import (
	"strings"

	"modelpilot/internal/catalog"
	"modelpilot/internal/processor"
)

// step is one processor invocation within a job.
type step struct {
	name     string
	modality catalog.Modality
	in       processor.Input
	opts     processor.Options
	// audioFromVideo extracts the audio track from in before processing.
	audioFromVideo bool
}

// plan maps the job flags onto processor steps. The input's own modality
// always yields a step; text analysis adds a text step when text
// accompanies media, and audio analysis of a video adds an audio step over
// the extracted track. The preferred model only applies to the primary step.
func plan(kind catalog.Modality, in Input, o Options) []step {
	base := processor.Options{Prompt: o.Prompt, Sampling: o.Sampling}
	primary := base
	primary.PreferredModelID = o.PreferredModelID
	media := processor.Input{Data: in.Data, Filename: in.Filename}
	text := strings.TrimSpace(in.Text)

	var steps []step
	switch kind {
	case catalog.ModalityImage:
		po := primary
		po.ObjectDetection, po.SceneDetection = o.ObjectDetection, o.SceneDetection
		if o.MultimodalAnalysis && po.Prompt == "" {
			po.Prompt = text
		}
		steps = append(steps, step{name: "image", modality: kind, in: media, opts: po})
	case catalog.ModalityVideo:
		if in.Path != "" {
			media.Video = processor.VideoSource{Path: in.Path}
		}
		frames := o.ExtractFrames || o.ObjectDetection || o.SceneDetection ||
			o.ContentSummarization || o.MultimodalAnalysis || !o.AudioAnalysis
		if frames {
			po := primary
			po.ObjectDetection, po.SceneDetection, po.Summarize = o.ObjectDetection, o.SceneDetection, true
			if o.MultimodalAnalysis && po.Prompt == "" {
				po.Prompt = text
			}
			steps = append(steps, step{name: "video", modality: kind, in: media, opts: po})
		}
		if o.AudioAnalysis {
			ao := base
			if !frames {
				ao = primary
			}
			steps = append(steps, step{name: "audio", modality: catalog.ModalityAudio, in: media, opts: ao, audioFromVideo: true})
		}
	case catalog.ModalityAudio:
		steps = append(steps, step{name: "audio", modality: kind, in: media, opts: primary})
	case catalog.ModalityText:
		po := primary
		po.Summarize = o.ContentSummarization
		po.Analyze = o.TextAnalysis || !o.ContentSummarization
		t := in.Text
		if t == "" {
			t = string(in.Data)
		}
		return []step{{name: "text", modality: kind, in: processor.Input{Text: t}, opts: po}}
	}
	if o.TextAnalysis && text != "" {
		to := base
		to.Prompt = ""
		to.Analyze, to.Summarize = true, o.ContentSummarization
		steps = append(steps, step{name: "text", modality: catalog.ModalityText, in: processor.Input{Text: in.Text}, opts: to})
	}
	return steps
}
