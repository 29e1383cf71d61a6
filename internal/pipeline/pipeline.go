// Package pipeline runs multimodal processing jobs on a bounded worker pool
// and fuses per-modality results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"modelpilot/internal/catalog"
	"modelpilot/internal/processor"
	"modelpilot/pkg/types"
)

// Config wires a Pipeline. Zero values pick the defaults noted per field.
type Config struct {
	Processors *processor.Set
	// Workers run jobs concurrently. Default 2.
	Workers int
	// QueueDepth bounds jobs waiting for a worker. Default 64.
	QueueDepth int
	// Retention keeps terminal jobs queryable. Default 1h.
	Retention time.Duration
	// ProcessTimeout bounds one job. Zero means unbounded.
	ProcessTimeout time.Duration
	// MediaRoot confines Input.Path. Empty disables path input.
	MediaRoot string
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Pipeline accepts jobs, runs them on workers and keeps their results for
// the retention period.
type Pipeline struct {
	procs     *processor.Set
	log       zerolog.Logger
	now       func() time.Time
	retention time.Duration
	timeout   time.Duration
	mediaRoot string

	mu     sync.Mutex
	jobs   map[string]*job
	queue  chan *job
	closed bool

	ctx     context.Context
	stop    context.CancelFunc
	workers sync.WaitGroup
	janitor chan struct{}
}

// New starts the worker pool and the retention janitor.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	p := &Pipeline{
		procs:     cfg.Processors,
		log:       cfg.Logger,
		now:       cfg.Now,
		retention: cfg.Retention,
		timeout:   cfg.ProcessTimeout,
		mediaRoot: canonicalRoot(cfg.MediaRoot),
		jobs:      map[string]*job{},
		queue:     make(chan *job, cfg.QueueDepth),
		ctx:       ctx,
		stop:      stop,
		janitor:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	go p.runJanitor(janitorInterval(cfg.Retention))
	return p
}

func janitorInterval(retention time.Duration) time.Duration {
	iv := retention / 4
	if iv < time.Second {
		iv = time.Second
	}
	if iv > 5*time.Minute {
		iv = 5 * time.Minute
	}
	return iv
}

// Submit validates in, plans the processing steps and queues the job. It
// fails fast with ErrTooBusy when the queue is full.
func (p *Pipeline) Submit(ctx context.Context, in Input, opts Options) (JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return JobHandle{}, err
	}
	now := p.now()
	j := &job{
		id:      uuid.NewString(),
		state:   StateReceived,
		created: now,
		updated: now,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	jobsTotal.WithLabelValues(string(StateReceived)).Inc()

	if in.Path != "" && len(in.Data) > 0 {
		return JobHandle{}, &ValidationError{Field: "path", Msg: "path and data are mutually exclusive"}
	}
	if in.Path != "" {
		resolved, err := p.resolvePath(in.Path)
		if err != nil {
			return JobHandle{}, err
		}
		in.Path = resolved
	}
	kind, err := Detect(in)
	if err != nil {
		return JobHandle{}, err
	}
	if in.Path != "" && kind != catalog.ModalityVideo {
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return JobHandle{}, &processor.UnsupportedFormatError{Modality: kind, Reason: err.Error()}
		}
		in.Data, in.Path = data, ""
	}
	steps := plan(kind, in, opts)
	if len(steps) == 0 {
		return JobHandle{}, &ValidationError{Msg: "no processing step for " + string(kind) + " input"}
	}

	j.kind, j.in, j.opts, j.steps = kind, in, opts, steps
	j.progress = make([]float64, len(steps))
	j.state, j.updated = StateValidated, p.now()
	jobsTotal.WithLabelValues(string(StateValidated)).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return JobHandle{}, ErrClosed
	}
	select {
	case p.queue <- j:
	default:
		jobsTotal.WithLabelValues("rejected").Inc()
		return JobHandle{}, ErrTooBusy(cap(p.queue))
	}
	p.jobs[j.id] = j
	queuedJobs.Inc()
	p.log.Debug().Str("job", j.id).Str("kind", string(kind)).Int("steps", len(steps)).Msg("job queued")
	return JobHandle{ID: j.id, Done: j.done}, nil
}

// Status reports a job's state and progress.
func (p *Pipeline) Status(id string) (types.JobStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return types.JobStatus{}, ErrJobNotFound(id)
	}
	return p.statusLocked(j), nil
}

func (p *Pipeline) statusLocked(j *job) types.JobStatus {
	st := types.JobStatus{
		ID:            j.id,
		State:         string(j.state),
		Progress:      j.progressLocked(),
		Error:         j.errMsg,
		CreatedAtUnix: j.created.Unix(),
		UpdatedAtUnix: j.updated.Unix(),
	}
	for _, s := range j.steps {
		st.Modalities = append(st.Modalities, s.name)
	}
	return st
}

// Result returns the fused result once the job is terminal, and nil before.
func (p *Pipeline) Result(id string) (*JobResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return nil, ErrJobNotFound(id)
	}
	return j.result, nil
}

// Wait blocks until the job is terminal or ctx is done.
func (p *Pipeline) Wait(ctx context.Context, id string) (*JobResult, error) {
	p.mu.Lock()
	j, ok := p.jobs[id]
	p.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound(id)
	}
	select {
	case <-j.done:
		return p.Result(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops a job. A queued job is cancelled immediately; a running job
// stops at the next frame boundary and in-flight inference is allowed to
// finish. Cancelling a terminal job is a no-op.
func (p *Pipeline) Cancel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return ErrJobNotFound(id)
	}
	if j.state.Terminal() {
		return nil
	}
	j.requestCancel()
	if j.state == StateValidated {
		p.finishLocked(j, &JobResult{JobID: j.id, Kind: j.kind, State: StateCancelled, Error: processor.ErrCancelled.Error(), Err: processor.ErrCancelled})
	}
	return nil
}

// List returns all retained jobs, oldest first.
func (p *Pipeline) List() []types.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.JobStatus, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, p.statusLocked(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAtUnix != out[b].CreatedAtUnix {
			return out[a].CreatedAtUnix < out[b].CreatedAtUnix
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// Close stops accepting jobs and waits for queued and running ones. When
// ctx ends first, running jobs are cancelled and Close returns ctx.Err().
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	close(p.janitor)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.stop()
		return nil
	case <-ctx.Done():
		p.stop()
		p.mu.Lock()
		for _, j := range p.jobs {
			if !j.state.Terminal() {
				j.requestCancel()
			}
		}
		p.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (p *Pipeline) worker() {
	defer p.workers.Done()
	for j := range p.queue {
		queuedJobs.Dec()
		p.run(j)
	}
}

func (p *Pipeline) setState(j *job, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = s
	j.updated = p.now()
}

// run drives one job from dispatch to a terminal state.
func (p *Pipeline) run(j *job) {
	p.mu.Lock()
	if j.state.Terminal() {
		p.mu.Unlock()
		return
	}
	j.state, j.updated = StateDispatched, p.now()
	p.mu.Unlock()

	start := time.Now()
	timeout := p.timeout
	if j.opts.Timeout > 0 {
		timeout = j.opts.Timeout
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()

	p.setState(j, StateProcessing)
	results := make([]*processor.Result, len(j.steps))
	var g errgroup.Group
	for i, st := range j.steps {
		i, st := i, st
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("step %s panicked: %v", st.name, r)
				}
			}()
			results[i] = p.runStep(ctx, j, i, st)
			p.mu.Lock()
			j.progress[i] = 1
			j.updated = p.now()
			p.mu.Unlock()
			return nil
		})
	}
	waitErr := g.Wait()

	p.setState(j, StateFused)
	var jr *JobResult
	if waitErr != nil {
		jr = abort(j, results, waitErr)
	} else {
		jr = fuse(j, results)
	}
	if j.cancelled() {
		jr.State = StateCancelled
		jr.Err = errors.Join(processor.ErrCancelled, jr.Err)
		jr.Error = jr.Err.Error()
	}
	jr.Duration = time.Since(start)
	countFrames(results)
	jobDuration.WithLabelValues(string(j.kind)).Observe(jr.Duration.Seconds())

	p.mu.Lock()
	p.finishLocked(j, jr)
	p.mu.Unlock()

	ev := p.log.Info().Str("job", j.id).Str("kind", string(j.kind)).Str("state", string(jr.State)).Dur("dur", jr.Duration)
	if len(jr.FailedModalities) > 0 {
		ev = ev.Interface("failed", jr.FailedModalities)
	}
	ev.Msg("job finished")
}

func (p *Pipeline) runStep(ctx context.Context, j *job, i int, st step) *processor.Result {
	proc := p.procs.For(st.modality)
	if proc == nil {
		return processor.Failed(st.modality, &processor.UnsupportedFormatError{Modality: st.modality, Reason: "no processor"})
	}
	in := st.in
	if st.audioFromVideo {
		track, err := p.procs.Video.AudioTrack(ctx, in)
		if err != nil {
			return processor.Failed(st.modality, err)
		}
		in = processor.Input{Data: track, Filename: "audio.wav"}
	}
	opts := st.opts
	opts.Cancel = j.cancel
	opts.OnFrame = func(done, total int) {
		p.mu.Lock()
		j.progress[i] = float64(done) / float64(total)
		j.updated = p.now()
		p.mu.Unlock()
	}
	return proc.Process(ctx, in, opts)
}

func (p *Pipeline) finishLocked(j *job, jr *JobResult) {
	if j.state.Terminal() {
		return
	}
	j.state = jr.State
	j.result = jr
	j.errMsg = jr.Error
	j.updated = p.now()
	close(j.done)
	jobsTotal.WithLabelValues(string(jr.State)).Inc()
}

func countFrames(results []*processor.Result) {
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, f := range r.Frames {
			outcome := "ok"
			if f.Failed {
				outcome = "failed"
			}
			framesTotal.WithLabelValues(outcome).Inc()
		}
	}
}

func (p *Pipeline) runJanitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.purgeExpired()
		case <-p.janitor:
			return
		}
	}
}

// purgeExpired drops terminal jobs older than the retention period.
func (p *Pipeline) purgeExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.retention)
	n := 0
	for id, j := range p.jobs {
		if j.state.Terminal() && j.updated.Before(cutoff) {
			delete(p.jobs, id)
			n++
		}
	}
	if n > 0 {
		p.log.Debug().Int("purged", n).Msg("expired jobs purged")
	}
	return n
}
