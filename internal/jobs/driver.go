// Package jobs drives backend generation jobs from submission to a terminal
// state.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/open_image_gateway/internal/models"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 45
)

// State is a step of the job lifecycle.
type State int

const (
	StateSubmitted State = iota
	StatePolling
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// QueueClient is the backend queue the driver talks to.
type QueueClient interface {
	Submit(ctx context.Context, submitURL, credential string, payload map[string]any) (models.JobHandle, error)
	Status(ctx context.Context, handle models.JobHandle, credential string) (string, error)
	Result(ctx context.Context, handle models.JobHandle, credential string) (models.JobOutput, error)
}

// Canceler is implemented by queue clients able to drop abandoned jobs.
type Canceler interface {
	Cancel(ctx context.Context, handle models.JobHandle, credential string) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observer receives job lifecycle events, typically for metrics.
type Observer interface {
	ObserveJobSubmitted(model string)
	ObserveJobFinished(model string, state State, attempts int, elapsed time.Duration)
}

// Options tune a Driver.
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	Sleep        Sleeper
	Logger       *slog.Logger
	Observer     Observer
	// BaseContext bounds every job; cancelling it aborts in-flight polling.
	BaseContext context.Context
}

// Driver runs jobs through submit, poll and result retrieval.
type Driver struct {
	client       QueueClient
	pollInterval time.Duration
	maxAttempts  int
	sleep        Sleeper
	logger       *slog.Logger
	observer     Observer
	base         context.Context
}

// NewDriver constructs a driver around client.
func NewDriver(client QueueClient, opts Options) *Driver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{
		client:       client,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		sleep:        opts.Sleep,
		logger:       opts.Logger,
		observer:     opts.Observer,
		base:         opts.BaseContext,
	}
}

// Job is one generation to run.
type Job struct {
	Model      string
	SubmitURL  string
	Credential string
	Payload    map[string]any
	// N caps the number of URLs returned.
	N int
}

// Result is the terminal outcome of a job.
type Result struct {
	State     State
	RequestID string
	URLs      []string
	Seed      *int64
	Prompt    string
	Attempts  int
}

type run struct {
	id       string
	job      Job
	handle   models.JobHandle
	attempts int
	output   models.JobOutput
	err      error
}

// Run executes job until it reaches a terminal state. The caller's
// cancellation is ignored so a dropped client connection does not abandon
// the backend job; only the driver's base context stops it.
func (d *Driver) Run(ctx context.Context, job Job) (Result, error) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if d.base != nil {
		stop := context.AfterFunc(d.base, cancel)
		defer stop()
	}

	started := time.Now()
	r := &run{id: uuid.NewString(), job: job}
	state := StateSubmitted
	for !state.Terminal() {
		state = d.step(jobCtx, r, state)
	}

	if d.observer != nil {
		d.observer.ObserveJobFinished(job.Model, state, r.attempts, time.Since(started))
	}

	res := Result{State: state, RequestID: r.handle.RequestID, Attempts: r.attempts}
	if state != StateCompleted {
		return res, r.err
	}
	urls := r.output.URLs
	if job.N > 0 && len(urls) > job.N {
		urls = urls[:job.N]
	}
	res.URLs = urls
	res.Seed = r.output.Seed
	res.Prompt = r.output.Prompt
	d.logger.Info("job driver: job completed",
		slog.String("job_id", r.id),
		slog.String("model", job.Model),
		slog.String("request_id", r.handle.RequestID),
		slog.Int("attempts", r.attempts),
		slog.Int("images", len(urls)),
	)
	return res, nil
}

func (d *Driver) step(ctx context.Context, r *run, state State) State {
	switch state {
	case StateSubmitted:
		return d.submit(ctx, r)
	case StatePolling:
		return d.poll(ctx, r)
	default:
		return state
	}
}

func (d *Driver) submit(ctx context.Context, r *run) State {
	handle, err := d.client.Submit(ctx, r.job.SubmitURL, r.job.Credential, r.job.Payload)
	if err != nil {
		if models.KindOf(err) == models.KindInternal {
			err = models.WrapError(models.KindUpstreamSubmission, err, "fal submission failed")
		}
		r.err = err
		d.logger.Warn("job driver: submission failed",
			slog.String("job_id", r.id),
			slog.String("model", r.job.Model),
			slog.String("error", err.Error()),
		)
		return StateFailed
	}
	if handle.RequestID == "" && handle.StatusURL == "" {
		r.err = models.NewError(models.KindUpstreamProtocol, "fal submission response has no request_id or status_url")
		return StateFailed
	}
	r.handle = handle
	if d.observer != nil {
		d.observer.ObserveJobSubmitted(r.job.Model)
	}
	d.logger.Debug("job driver: submitted",
		slog.String("job_id", r.id),
		slog.String("model", r.job.Model),
		slog.String("request_id", handle.RequestID),
	)
	return StatePolling
}

func (d *Driver) poll(ctx context.Context, r *run) State {
	if r.attempts >= d.maxAttempts {
		r.err = models.NewError(models.KindGenerationTimeout, "image generation timed out after %d status checks", r.attempts)
		d.cancelAbandoned(ctx, r)
		return StateTimedOut
	}
	if err := d.sleep(ctx, d.pollInterval); err != nil {
		r.err = models.WrapError(models.KindInternal, err, "job polling interrupted")
		return StateFailed
	}
	r.attempts++

	status, err := d.client.Status(ctx, r.handle, r.job.Credential)
	if err != nil {
		d.logger.Warn("job driver: status check failed",
			slog.String("job_id", r.id),
			slog.String("request_id", r.handle.RequestID),
			slog.Int("attempt", r.attempts),
			slog.String("error", err.Error()),
		)
		return StatePolling
	}

	switch strings.ToUpper(strings.TrimSpace(status)) {
	case models.JobStatusCompleted:
		out, err := d.client.Result(ctx, r.handle, r.job.Credential)
		if err != nil || len(out.URLs) == 0 {
			attrs := []any{
				slog.String("job_id", r.id),
				slog.String("request_id", r.handle.RequestID),
				slog.Int("attempt", r.attempts),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			d.logger.Warn("job driver: completed job returned no images", attrs...)
			return StatePolling
		}
		r.output = out
		return StateCompleted
	case models.JobStatusFailed, models.JobStatusError:
		reason := status
		if out, err := d.client.Result(ctx, r.handle, r.job.Credential); strings.TrimSpace(out.Reason) != "" {
			reason = out.Reason
		} else if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Debug("job driver: failure detail unavailable", slog.String("error", err.Error()))
		}
		r.err = models.NewError(models.KindGenerationFailed, "image generation failed: %s", reason)
		return StateFailed
	default:
		return StatePolling
	}
}

func (d *Driver) cancelAbandoned(ctx context.Context, r *run) {
	canceler, ok := d.client.(Canceler)
	if !ok {
		return
	}
	if err := canceler.Cancel(ctx, r.handle, r.job.Credential); err != nil {
		d.logger.Debug("job driver: cancel failed",
			slog.String("request_id", r.handle.RequestID),
			slog.String("error", err.Error()),
		)
	}
}
