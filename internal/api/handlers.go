package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/engine"
	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/license"
	"github.com/xkilldash9x/formpilot/internal/memory"
	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

// Deps are the services behind the API.
type Deps struct {
	Gate        *license.Gate
	Memory      *memory.Store
	Runner      *engine.Runner
	Recorder    records.Recorder
	Bus         *events.Bus
	Catalog     submission.Catalog
	DefaultURL  string
	AdminSecret string
}

// Handlers serves the HTTP API.
type Handlers struct {
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger *zap.Logger) *Handlers {
	if deps.Recorder == nil {
		deps.Recorder = records.Nop()
	}
	return &Handlers{
		deps: deps,
		log:  logger.Named("api"),
		now:  time.Now,
		stop: make(chan struct{}),
	}
}

// Close ends open event streams. Safe to call more than once.
func (h *Handlers) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/license", h.HandleLicenseStatus)
	r.Post("/license/validate", h.HandleValidateLicense)

	r.Get("/saved", h.HandleSaved)
	r.Get("/options", h.HandleOptions)
	r.Post("/delete_value", h.HandleDeleteValue)

	r.Post("/send", h.HandleSend)
	r.Post("/send10", h.HandleSendBatch)
	r.Get("/jobs/{jobID}", h.HandleGetJob)
	r.Delete("/jobs/{jobID}", h.HandleCancelJob)
	r.Get("/events", h.HandleEvents)

	r.Group(func(r chi.Router) {
		r.Use(requireAdmin(h.deps.AdminSecret))
		r.Get("/export.json", h.exportHandler(records.FormatJSON))
		r.Get("/export.csv", h.exportHandler(records.FormatCSV))
	})
}

func (h *Handlers) respond(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var verr *submission.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, license.ErrInvalidLicense),
		errors.Is(err, engine.ErrInvalidCount),
		errors.Is(err, memory.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, license.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, engine.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRunnerClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) HandleLicenseStatus(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, h.deps.Gate.Status())
}

func (h *Handlers) HandleValidateLicense(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	expiry, err := h.deps.Gate.Validate(in["key"])
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	h.respond(w, http.StatusOK, Response{OK: true, Expires: expiry.Format(time.RFC3339)})
}

func (h *Handlers) HandleSaved(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, h.deps.Memory.Load())
}

func (h *Handlers) HandleOptions(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, h.deps.Catalog)
}

func (h *Handlers) HandleDeleteValue(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Memory.Forget(submission.Field(in["field"]), in["value"]); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	h.respond(w, http.StatusOK, Response{OK: true})
}

// payloadFrom builds a payload from request fields. A missing form_url falls
// back to the configured default; a missing date to today when allowed.
func (h *Handlers) payloadFrom(in map[string]string, defaultDate bool) (submission.Payload, error) {
	input := make(submission.Input, len(submission.Fields))
	for _, f := range submission.Fields {
		input[f] = in[string(f)]
	}
	if strings.TrimSpace(input[submission.FieldFormURL]) == "" {
		input[submission.FieldFormURL] = h.deps.DefaultURL
	}
	if defaultDate && strings.TrimSpace(input[submission.FieldDate]) == "" {
		input[submission.FieldDate] = h.now().Format(submission.DateLayout)
	}
	return submission.Build(input)
}

// async reports whether the caller asked for a 202 and a job ID instead of
// waiting for the outcome.
func async(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return v
}

func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.payloadFrom(in, false)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	// Checked here so an unlicensed caller gets 403 instead of a failed job.
	if err := h.deps.Gate.Authorize(); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	job, err := h.deps.Runner.StartSend(p)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	if async(r) {
		h.respond(w, http.StatusAccepted, Response{OK: true, JobID: job.ID})
		return
	}

	done, ok := h.wait(r.Context(), job.ID)
	if !ok {
		return
	}
	if err := done.Err(); err != nil {
		h.respond(w, statusFor(err), Response{OK: false, Detail: err.Error(), JobID: job.ID})
		return
	}
	res, _ := done.Result.(engine.SendResult)
	h.respond(w, http.StatusOK, Response{OK: true, Count: intPtr(res.Count), JobID: job.ID})
}

func (h *Handlers) HandleSendBatch(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.payloadFrom(in, true)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	count := 0
	if raw := strings.TrimSpace(in["count"]); raw != "" {
		if count, err = strconv.Atoi(raw); err != nil {
			respondError(w, http.StatusBadRequest, "count must be an integer")
			return
		}
	}
	if err := h.deps.Gate.Authorize(); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	job, err := h.deps.Runner.StartBatch(p, count)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	if async(r) {
		h.respond(w, http.StatusAccepted, Response{OK: true, JobID: job.ID})
		return
	}

	done, ok := h.wait(r.Context(), job.ID)
	if !ok {
		return
	}
	res, _ := done.Result.(engine.BatchResult)
	_, total := h.deps.Memory.Load().InterventionSummary(p.Intervention)
	if err := done.Err(); err != nil {
		h.respond(w, statusFor(err), Response{
			OK:     false,
			Detail: err.Error(),
			Sent:   intPtr(res.Sent),
			Count:  intPtr(total),
			JobID:  job.ID,
		})
		return
	}
	h.respond(w, http.StatusOK, Response{OK: true, Sent: intPtr(res.Sent), Count: intPtr(total), JobID: job.ID})
}

// wait blocks until the job finishes. It returns false when the client went
// away; the job keeps running and can be polled.
func (h *Handlers) wait(ctx context.Context, id string) (engine.Job, bool) {
	done, err := h.deps.Runner.Wait(ctx, id)
	if err != nil {
		h.log.Info("Client left before job finished.", zap.String("job_id", id), zap.Error(err))
		return engine.Job{}, false
	}
	return done, true
}

func (h *Handlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Runner.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	h.respond(w, http.StatusOK, job)
}

func (h *Handlers) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Runner.Cancel(chi.URLParam(r, "jobID")); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	h.respond(w, http.StatusAccepted, Response{OK: true})
}

func (h *Handlers) exportHandler(f records.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := h.deps.Recorder.List(r.Context())
		if err != nil {
			h.log.Error("Failed to list submissions", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to list submissions")
			return
		}
		w.Header().Set("Content-Type", f.ContentType())
		w.Header().Set("Content-Disposition", "attachment; filename=submissions."+string(f))
		if err := records.Export(w, f, recs); err != nil {
			h.log.Error("Failed to write export", zap.Error(err))
		}
	}
}
