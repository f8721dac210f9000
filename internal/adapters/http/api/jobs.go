package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	service "github.com/okian/sensorlink/internal/app"
	"github.com/okian/sensorlink/internal/domain/model"
)

// IdempotencyHeader carries the client's deduplication key for job submission.
const IdempotencyHeader = "Idempotency-Key"

// JobDependencies manages async jobs.
type JobDependencies interface {
	SubmitJob(ctx context.Context, req service.JobRequest) (service.Job, bool, error)
	Job(ctx context.Context, id string) (service.Job, error)
	CancelJob(ctx context.Context, id string) (service.Job, error)
}

// JobsHandler handles job submission, polling and cancellation.
type JobsHandler struct {
	deps JobDependencies
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps JobDependencies) *JobsHandler {
	return &JobsHandler{deps: deps}
}

// jobBody wraps a rank or correlation body under "request".
type jobBody struct {
	Kind    model.JobKind   `json:"kind"`
	Request json.RawMessage `json:"request"`
}

type jobAccepted struct {
	JobID    string          `json:"job_id"`
	Status   model.JobStatus `json:"status"`
	Existing bool            `json:"existing"`
}

func (b jobBody) toRequest(op string) (service.JobRequest, error) {
	req := service.JobRequest{Kind: b.Kind}
	if !b.Kind.Valid() {
		return req, WrapKind(op, ErrBadRequest, fmt.Errorf("unknown job kind %q", b.Kind))
	}
	if len(b.Request) == 0 {
		return req, WrapKind(op, ErrBadRequest, errors.New("request is required"))
	}
	switch b.Kind {
	case model.JobRank:
		var rb rankBody
		if err := json.Unmarshal(b.Request, &rb); err != nil {
			return req, WrapKind(op, ErrBadRequest, err)
		}
		rr := rb.request()
		req.Rank = &rr
	case model.JobCorrelation:
		var cb correlationBody
		if err := json.Unmarshal(b.Request, &cb); err != nil {
			return req, WrapKind(op, ErrBadRequest, err)
		}
		cr := cb.request()
		req.Correlation = &cr
	}
	return req, nil
}

// HandleSubmit handles POST /v1/jobs. New jobs answer 202; a repeated
// Idempotency-Key answers 200 with the job it was first bound to.
func (h *JobsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_job"
	var body jobBody
	if err := decodeJSON(op, r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	req, err := body.toRequest(op)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))

	job, existing, err := h.deps.SubmitJob(r.Context(), req)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	status := http.StatusAccepted
	if existing {
		status = http.StatusOK
	}
	writeJSON(w, status, jobAccepted{JobID: job.ID, Status: job.Status, Existing: existing})
}

// HandleGet handles GET /v1/jobs/{id}.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_job"
	job, err := h.deps.Job(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleCancel handles DELETE /v1/jobs/{id}.
func (h *JobsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	const op = "api.cancel_job"
	job, err := h.deps.CancelJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}
