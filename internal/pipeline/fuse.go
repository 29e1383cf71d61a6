package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"modelpilot/internal/processor"
)

// fuse combines step results. Any configuration failure fails the job.
// Otherwise the job completes when at least one step succeeded; failed
// steps are listed in FailedModalities.
func fuse(j *job, results []*processor.Result) *JobResult {
	jr := &JobResult{
		JobID:            j.id,
		Kind:             j.kind,
		Results:          make(map[string]*processor.Result, len(results)),
		FailedModalities: map[string]string{},
	}
	var (
		causes   []error
		texts    []string
		objects  = map[string]struct{}{}
		confSum  float64
		confN    int
		fatalErr error
	)
	for i, r := range results {
		name := j.steps[i].name
		jr.Results[name] = r
		if r.Failed {
			jr.FailedModalities[name] = r.Error
			causes = append(causes, fmt.Errorf("%s: %w", name, r.Err))
			if r.ErrorKind == processor.KindConfiguration && fatalErr == nil {
				fatalErr = fmt.Errorf("%s: %w", name, r.Err)
			}
			continue
		}
		if t := strings.TrimSpace(r.NormalizedText); t != "" {
			texts = append(texts, t)
		}
		if objs, ok := r.Metadata["objects"].([]string); ok {
			for _, o := range objs {
				objects[strings.ToLower(o)] = struct{}{}
			}
		}
		if r.Confidence != nil {
			confSum += *r.Confidence
			confN++
		}
	}
	if len(jr.FailedModalities) == 0 {
		jr.FailedModalities = nil
	}

	switch {
	case fatalErr != nil:
		jr.State, jr.Err = StateFailed, fatalErr
	case len(causes) == len(results):
		jr.State, jr.Err = StateFailed, errors.Join(causes...)
	default:
		jr.State = StateCompleted
	}
	if jr.Err != nil {
		jr.Error = jr.Err.Error()
	}

	jr.NormalizedText = strings.Join(texts, "\n\n")
	for o := range objects {
		jr.Objects = append(jr.Objects, o)
	}
	sort.Strings(jr.Objects)
	if confN > 0 {
		c := confSum / float64(confN)
		jr.Confidence = &c
	}
	return jr
}

// abort builds the result of a job whose steps did not all run to
// completion. Results that were produced are kept.
func abort(j *job, results []*processor.Result, err error) *JobResult {
	jr := &JobResult{
		JobID:   j.id,
		State:   StateFailed,
		Kind:    j.kind,
		Results: make(map[string]*processor.Result, len(results)),
		Error:   err.Error(),
		Err:     err,
	}
	for i, r := range results {
		if r != nil {
			jr.Results[j.steps[i].name] = r
		}
	}
	return jr
}
