package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"modelpilot/internal/pipeline"
	"modelpilot/pkg/types"
)

var processReq types.JobRequest

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Run one job synchronously and print the JSON result",
	Long: `process detects the input kind, runs every enabled analysis and prints
the fused result. With no file, --text is analysed as a text job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	f := processCmd.Flags()
	f.StringVar(&processReq.Kind, "kind", "", "force the input kind (image, text, video, audio)")
	f.StringVar(&processReq.Text, "text", "", "accompanying or standalone text")
	f.BoolVar(&processReq.Options.ExtractFrames, "extract-frames", false, "sample and describe video frames")
	f.BoolVar(&processReq.Options.ObjectDetection, "objects", false, "list detected objects")
	f.BoolVar(&processReq.Options.SceneDetection, "scenes", false, "describe the scene")
	f.BoolVar(&processReq.Options.TextAnalysis, "text-analysis", false, "analyse accompanying text")
	f.BoolVar(&processReq.Options.MultimodalAnalysis, "multimodal", false, "answer --text about the image")
	f.BoolVar(&processReq.Options.ContentSummarization, "summarize", false, "summarize text content")
	f.BoolVar(&processReq.Options.AudioAnalysis, "audio", false, "transcribe audio, including a video's soundtrack")
	f.StringVar(&processReq.Options.PreferredModel, "model", "", "preferred model id")
	f.StringVar(&processReq.Options.Prompt, "prompt", "", "free-form question for the model")
	f.Float64Var(&processReq.Options.FrameIntervalSeconds, "frame-interval", 0, "seconds between sampled frames")
	f.IntVar(&processReq.Options.FrameCount, "frame-count", 0, "number of evenly spaced frames")
	f.IntVar(&processReq.Options.TimeoutSeconds, "timeout", 0, "job timeout in seconds")
}

func runProcess(cmd *cobra.Command, args []string) error {
	req := processReq
	c := cfg
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		req.Path = abs
		req.Filename = filepath.Base(abs)
		c.Pipeline.MediaRoot = filepath.Dir(abs)
	}
	in, opts, err := pipeline.FromRequest(req)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newServices(ctx, c)
	if err != nil {
		return err
	}
	defer rt.close(shutdownTimeout)

	h, err := rt.pipeline.Submit(ctx, in, opts)
	if err != nil {
		return err
	}
	res, err := rt.pipeline.Wait(ctx, h.ID)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.State != pipeline.StateCompleted {
		return fmt.Errorf("job %s %s: %s", res.JobID, res.State, res.Error)
	}
	return nil
}
