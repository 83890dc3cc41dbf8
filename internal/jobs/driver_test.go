package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_image_gateway/internal/models"
)

type scriptedQueue struct {
	mu          sync.Mutex
	submitErr   error
	handle      models.JobHandle
	statuses    []string
	statusErrs  map[int]error
	results     []models.JobOutput
	resultErr   error
	submits     int
	statusCalls int
	resultCalls int
	cancels     int
}

func newScriptedQueue(statuses ...string) *scriptedQueue {
	return &scriptedQueue{
		handle:     models.JobHandle{RequestID: "req-1", StatusURL: "https://q/app/requests/req-1/status", ResponseURL: "https://q/app/requests/req-1"},
		statuses:   statuses,
		statusErrs: map[int]error{},
	}
}

func (q *scriptedQueue) Submit(context.Context, string, string, map[string]any) (models.JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submits++
	if q.submitErr != nil {
		return models.JobHandle{}, q.submitErr
	}
	return q.handle, nil
}

func (q *scriptedQueue) Status(context.Context, models.JobHandle, string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statusCalls++
	if err := q.statusErrs[q.statusCalls]; err != nil {
		return "", err
	}
	if len(q.statuses) == 0 {
		return models.JobStatusInProgress, nil
	}
	idx := q.statusCalls - 1
	if idx >= len(q.statuses) {
		idx = len(q.statuses) - 1
	}
	return q.statuses[idx], nil
}

func (q *scriptedQueue) Result(context.Context, models.JobHandle, string) (models.JobOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resultCalls++
	if q.resultErr != nil {
		return models.JobOutput{}, q.resultErr
	}
	if len(q.results) == 0 {
		return models.JobOutput{}, nil
	}
	idx := q.resultCalls - 1
	if idx >= len(q.results) {
		idx = len(q.results) - 1
	}
	return q.results[idx], nil
}

func (q *scriptedQueue) Cancel(context.Context, models.JobHandle, string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancels++
	return nil
}

type countingSleeper struct {
	mu    sync.Mutex
	calls int
	last  time.Duration
}

func (s *countingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = d
	return ctx.Err()
}

type recordingObserver struct {
	submitted int
	state     State
	attempts  int
}

func (o *recordingObserver) ObserveJobSubmitted(string) { o.submitted++ }

func (o *recordingObserver) ObserveJobFinished(_ string, state State, attempts int, _ time.Duration) {
	o.state = state
	o.attempts = attempts
}

func newTestDriver(q QueueClient, sleeper *countingSleeper, observer Observer) *Driver {
	return NewDriver(q, Options{
		Sleep:    sleeper.Sleep,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer: observer,
	})
}

func testJob() Job {
	return Job{Model: "flux", SubmitURL: "https://q/app/model", Credential: "k", Payload: map[string]any{"prompt": "a cat"}, N: 1}
}

func TestDriverCompletesAfterQueuedStatuses(t *testing.T) {
	q := newScriptedQueue(models.JobStatusInQueue, models.JobStatusInQueue, models.JobStatusCompleted)
	q.results = []models.JobOutput{{URLs: []string{"X"}}}
	sleeper := &countingSleeper{}
	observer := &recordingObserver{}

	res, err := newTestDriver(q, sleeper, observer).Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, []string{"X"}, res.URLs)
	require.Equal(t, "req-1", res.RequestID)
	require.Equal(t, 3, q.statusCalls)
	require.Equal(t, 3, sleeper.calls)
	require.Equal(t, DefaultPollInterval, sleeper.last)
	require.Equal(t, 1, observer.submitted)
	require.Equal(t, StateCompleted, observer.state)
	require.Equal(t, 3, observer.attempts)
}

func TestDriverStopsOnFirstFailure(t *testing.T) {
	q := newScriptedQueue("failed")
	q.results = []models.JobOutput{{Reason: "NSFW content detected"}}

	res, err := newTestDriver(q, &countingSleeper{}, nil).Run(context.Background(), testJob())
	require.Equal(t, StateFailed, res.State)
	require.True(t, models.IsKind(err, models.KindGenerationFailed))
	require.Contains(t, err.Error(), "NSFW content detected")
	require.Equal(t, 1, q.statusCalls, "no further polls after failure")
}

func TestDriverFailureFallsBackToStatus(t *testing.T) {
	q := newScriptedQueue(models.JobStatusError)
	q.resultErr = errors.New("result unavailable")

	_, err := newTestDriver(q, &countingSleeper{}, nil).Run(context.Background(), testJob())
	require.True(t, models.IsKind(err, models.KindGenerationFailed))
	require.Contains(t, err.Error(), models.JobStatusError)
}

func TestDriverTimesOutAfterMaxAttempts(t *testing.T) {
	q := newScriptedQueue(models.JobStatusInProgress)
	observer := &recordingObserver{}

	res, err := newTestDriver(q, &countingSleeper{}, observer).Run(context.Background(), testJob())
	require.Equal(t, StateTimedOut, res.State)
	require.True(t, models.IsKind(err, models.KindGenerationTimeout))
	require.Equal(t, DefaultMaxAttempts, q.statusCalls)
	require.Equal(t, 1, q.cancels)
	require.Equal(t, StateTimedOut, observer.state)
}

func TestDriverKeepsPollingWhenCompletedWithoutImages(t *testing.T) {
	q := newScriptedQueue(models.JobStatusCompleted)
	q.results = []models.JobOutput{{}, {URLs: []string{"A", "B", "C"}}}
	job := testJob()
	job.N = 2

	res, err := newTestDriver(q, &countingSleeper{}, nil).Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, res.URLs)
	require.Equal(t, 2, q.statusCalls)
	require.Equal(t, 2, q.resultCalls)
}

func TestDriverToleratesStatusErrors(t *testing.T) {
	q := newScriptedQueue(models.JobStatusInQueue, models.JobStatusInQueue, models.JobStatusCompleted)
	q.statusErrs[1] = errors.New("connection reset")
	seed := int64(9)
	q.results = []models.JobOutput{{URLs: []string{"X"}, Seed: &seed, Prompt: "revised"}}

	res, err := newTestDriver(q, &countingSleeper{}, nil).Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, "revised", res.Prompt)
	require.Equal(t, int64(9), *res.Seed)
}

func TestDriverSubmissionErrors(t *testing.T) {
	q := newScriptedQueue()
	q.submitErr = models.NewError(models.KindUpstreamSubmission, "fal submission failed with status 422: bad prompt")

	res, err := newTestDriver(q, &countingSleeper{}, nil).Run(context.Background(), testJob())
	require.Equal(t, StateFailed, res.State)
	require.True(t, models.IsKind(err, models.KindUpstreamSubmission))
	require.Zero(t, q.statusCalls)

	q = newScriptedQueue()
	q.submitErr = errors.New("dial tcp: refused")
	_, err = newTestDriver(q, &countingSleeper{}, nil).Run(context.Background(), testJob())
	require.True(t, models.IsKind(err, models.KindUpstreamSubmission))

	q = newScriptedQueue()
	q.handle = models.JobHandle{}
	_, err = newTestDriver(q, &countingSleeper{}, nil).Run(context.Background(), testJob())
	require.True(t, models.IsKind(err, models.KindUpstreamProtocol))
}

func TestDriverIgnoresCallerCancellation(t *testing.T) {
	q := newScriptedQueue(models.JobStatusCompleted)
	q.results = []models.JobOutput{{URLs: []string{"X"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestDriver(q, &countingSleeper{}, nil).Run(ctx, testJob())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)
}

func TestDriverStopsWhenBaseContextEnds(t *testing.T) {
	q := newScriptedQueue(models.JobStatusInQueue)
	base, cancel := context.WithCancel(context.Background())
	cancel()
	driver := NewDriver(q, Options{
		Sleep:        SleepContext,
		PollInterval: time.Hour,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		BaseContext:  base,
	})

	res, err := driver.Run(context.Background(), testJob())
	require.Error(t, err)
	require.Equal(t, StateFailed, res.State)
	require.Zero(t, q.statusCalls)
}

func TestStepTransitions(t *testing.T) {
	driver := newTestDriver(newScriptedQueue(models.JobStatusInQueue), &countingSleeper{}, nil)
	r := &run{job: testJob()}
	require.Equal(t, StatePolling, driver.step(context.Background(), r, StateSubmitted))
	require.Equal(t, StatePolling, driver.step(context.Background(), r, StatePolling))
	require.Equal(t, StateCompleted, driver.step(context.Background(), r, StateCompleted))
	require.Equal(t, 1, r.attempts)
}
