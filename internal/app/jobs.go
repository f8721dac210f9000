package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/sensorlink/internal/adapters/mq/publisher"
	"github.com/okian/sensorlink/internal/adapters/mq/queue"
	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/pkg/logger"
	"github.com/okian/sensorlink/pkg/metrics"
)

// Job is the pollable record of an async analysis.
type Job struct {
	ID          string          `json:"job_id"`
	Kind        model.JobKind   `json:"kind"`
	Status      model.JobStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Result      any             `json:"result,omitempty"`

	rank    *RankRequest
	corr    *CorrelationRequest
	idemKey string
	cancel  context.CancelFunc
}

// JobRequest submits exactly one of Rank or Correlation, matching Kind.
type JobRequest struct {
	Kind           model.JobKind
	Rank           *RankRequest
	Correlation    *CorrelationRequest
	IdempotencyKey string
}

// SubmitJob queues an analysis. A repeated IdempotencyKey returns the job it
// was first bound to with existing=true.
func (s *Service) SubmitJob(ctx context.Context, req JobRequest) (job Job, existing bool, err error) {
	s.mu.RLock()
	started, q := s.started, s.jobQueue
	s.mu.RUnlock()
	if !started {
		return Job{}, false, ErrNotStarted
	}
	switch {
	case req.Kind == model.JobRank && req.Rank != nil:
		if err := validateRank(*req.Rank); err != nil {
			return Job{}, false, err
		}
	case req.Kind == model.JobCorrelation && req.Correlation != nil:
	default:
		return Job{}, false, fmt.Errorf("%w: kind %q needs a matching request", ErrInvalidRequest, req.Kind)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	j := &Job{
		ID:          id,
		Kind:        req.Kind,
		Status:      model.JobQueued,
		SubmittedAt: now,
		rank:        req.Rank,
		corr:        req.Correlation,
		idemKey:     req.IdempotencyKey,
	}

	// The key binding and the job record change together so a concurrent
	// submitter with the same key always finds the job it was bound to.
	s.jobsMu.Lock()
	if key := req.IdempotencyKey; key != "" {
		if prior, ok := s.bindLocked(ctx, key, id); ok {
			snap := prior.snapshot()
			s.jobsMu.Unlock()
			return snap, true, nil
		}
	}
	s.jobs[id] = j
	s.order = append(s.order, id)
	snap := j.snapshot()
	s.jobsMu.Unlock()

	if err := q.Enqueue(ctx, model.Task{JobID: id, Kind: req.Kind, Enqueued: now}); err != nil {
		s.jobsMu.Lock()
		delete(s.jobs, id)
		s.order = removeID(s.order, id)
		s.unbindLocked(ctx, req.IdempotencyKey, id)
		s.jobsMu.Unlock()
		if errors.Is(err, queue.ErrFull) {
			return Job{}, false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return Job{}, false, err
	}
	s.logger.Debug(ctx, "job queued", logger.String("job_id", id), logger.String("kind", string(req.Kind)))
	return snap, false, nil
}

// bindLocked claims key for id. When the key is already bound to a retained
// job that job is returned; a binding whose job aged out is replaced.
// Callers hold jobsMu.
func (s *Service) bindLocked(ctx context.Context, key, id string) (*Job, bool) {
	bound, claimed := s.idem.Claim(ctx, key, id)
	if claimed {
		return nil, false
	}
	if prior, ok := s.jobs[bound]; ok {
		return prior, true
	}
	s.idem.Release(ctx, key)
	s.idem.Claim(ctx, key, id)
	return nil, false
}

// unbindLocked drops key only while it still names id. Callers hold jobsMu.
func (s *Service) unbindLocked(ctx context.Context, key, id string) {
	if key == "" {
		return
	}
	if bound, ok := s.idem.Lookup(ctx, key); ok && bound == id {
		s.idem.Release(ctx, key)
	}
}

// Job returns a snapshot of the job.
func (s *Service) Job(_ context.Context, id string) (Job, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.snapshot(), nil
}

// CancelJob marks a queued or running job cancelled. Running jobs observe
// cancellation between sensors.
func (s *Service) CancelJob(ctx context.Context, id string) (Job, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status.Terminal() {
		return j.snapshot(), fmt.Errorf("%w: %s is %s", ErrJobFinished, id, j.Status)
	}
	if j.cancel != nil {
		j.cancel()
	}
	s.finishLocked(j, model.JobCancelled, nil, "")
	s.logger.Info(ctx, "job cancelled", logger.String("job_id", id))
	return j.snapshot(), nil
}

// RunJob executes a queued task. It satisfies worker.Runner.
func (s *Service) RunJob(ctx context.Context, t model.Task) error {
	s.jobsMu.Lock()
	j, ok := s.jobs[t.JobID]
	if !ok || j.Status != model.JobQueued {
		s.jobsMu.Unlock()
		return nil
	}
	jctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	started := time.Now().UTC()
	j.Status, j.StartedAt, j.cancel = model.JobRunning, &started, cancel
	rankReq, corrReq := j.rank, j.corr
	s.jobsMu.Unlock()

	var (
		result any
		err    error
	)
	switch t.Kind {
	case model.JobRank:
		result, err = s.Rank(jctx, *rankReq)
	case model.JobCorrelation:
		result, err = s.Correlate(jctx, *corrReq)
	default:
		err = fmt.Errorf("%w: unknown job kind %q", ErrInvalidRequest, t.Kind)
	}

	status := model.JobSucceeded
	msg := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status, msg = model.JobCancelled, err.Error()
	default:
		status, msg = model.JobFailed, err.Error()
	}

	s.jobsMu.Lock()
	s.finishLocked(j, status, result, msg)
	s.jobsMu.Unlock()

	if status == model.JobFailed {
		return err
	}
	return nil
}

// finishLocked moves j to a terminal state once, records it and evicts
// finished jobs beyond the retention bound. Callers hold jobsMu.
func (s *Service) finishLocked(j *Job, status model.JobStatus, result any, msg string) {
	if j.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.Status, j.FinishedAt, j.Error, j.cancel = status, &now, msg, nil
	if status == model.JobSucceeded {
		j.Result = result
	}
	j.rank, j.corr = nil, nil

	metrics.RecordJob(string(j.Kind), string(status), float64(now.Sub(j.SubmittedAt).Microseconds())/1000)
	go s.publish(j.summary())
	s.evictLocked()
}

func (s *Service) publish(sum publisher.Summary) {
	if err := s.publisher.Publish(context.Background(), sum); err != nil {
		s.logger.Warn(context.Background(), "job summary not published",
			logger.String("job_id", sum.JobID), logger.Error(err))
	}
}

func (s *Service) evictLocked() {
	finished := 0
	for _, id := range s.order {
		if s.jobs[id].Status.Terminal() {
			finished++
		}
	}
	excess := finished - s.jobRetention
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		j := s.jobs[id]
		if excess > 0 && j.Status.Terminal() {
			delete(s.jobs, id)
			s.unbindLocked(context.Background(), j.idemKey, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// cancelAll cancels every job that has not finished.
func (s *Service) cancelAll() {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	ids := append([]string(nil), s.order...)
	for _, id := range ids {
		j, ok := s.jobs[id]
		if !ok || j.Status.Terminal() {
			continue
		}
		if j.cancel != nil {
			j.cancel()
		}
		s.finishLocked(j, model.JobCancelled, nil, "service stopping")
	}
}

func (j *Job) snapshot() Job {
	return Job{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Error:       j.Error,
		SubmittedAt: j.SubmittedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		Result:      j.Result,
	}
}

func (j *Job) summary() publisher.Summary {
	sum := publisher.Summary{
		JobID:     j.ID,
		Kind:      j.Kind,
		Status:    j.Status,
		Error:     j.Error,
		Submitted: j.SubmittedAt,
	}
	if j.FinishedAt != nil {
		sum.Finished = *j.FinishedAt
		sum.DurationMS = j.FinishedAt.Sub(j.SubmittedAt).Milliseconds()
	}
	switch r := j.Result.(type) {
	case RankResponse:
		sum.FocusID = r.FocusSensorID
		sum.Results = len(r.Candidates)
	case CorrelationResponse:
		sum.Results = len(r.SensorIDs)
	}
	return sum
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
