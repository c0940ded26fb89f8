// Package httpserver is the HTTP adapter: submission, status polling,
// stored-image serving and the health endpoints.
package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/internal/usecase"
)

// estimatedSeconds is the advertised processing estimate returned to
// submitters for polling cadence.
const estimatedSeconds = 60

// Handlers bundles the use cases behind the HTTP surface.
type Handlers struct {
	submitter *usecase.Submitter
	status    *usecase.Status
	imageDir  string
}

// New builds the handler set. imageDir may be empty when local image
// serving is off.
func New(submitter *usecase.Submitter, status *usecase.Status, imageDir string) *Handlers {
	return &Handlers{submitter: submitter, status: status, imageDir: imageDir}
}

type submitResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	EstimatedTime int    `json:"estimated_time"`
}

// ProcessInvoice accepts a job submission and answers as soon as the
// payload is durable. Duplicate job_ids answer identically to the first
// submission.
func (h *Handlers) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	var in usecase.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, fmt.Errorf("decode body: %w", domain.ErrInvalidArgument))
		return
	}
	jobID, _, err := h.submitter.Submit(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:         jobID,
		Status:        string(domain.JobQueued),
		EstimatedTime: estimatedSeconds,
	})
}

// JobStatus serves the polled job state.
func (h *Handlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, fmt.Errorf("missing job_id: %w", domain.ErrInvalidArgument))
		return
	}
	view, err := h.status.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Image serves a stored enhanced image from the local blob directory.
func (h *Handlers) Image(w http.ResponseWriter, r *http.Request) {
	if h.imageDir == "" {
		writeError(w, domain.ErrNotFound)
		return
	}
	name := filepath.Base(chi.URLParam(r, "filename"))
	path := filepath.Join(h.imageDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

// Healthz is the liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyCheck probes one dependency for readiness.
type ReadyCheck struct {
	Name  string
	Probe func(domain.Context) error
}

// Readyz reports 200 only when every configured dependency answers.
func Readyz(checks ...ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]string{}
		healthy := true
		for _, c := range checks {
			if err := c.Probe(r.Context()); err != nil {
				out[c.Name] = err.Error()
				healthy = false
				continue
			}
			out[c.Name] = "ok"
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, out)
	}
}
