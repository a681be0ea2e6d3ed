// Package engine runs form automation: a single send, or a batch of sends
// with date rotation, against one browser tab.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formpilot/internal/archive"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/filler"
	"github.com/xkilldash9x/formpilot/internal/memory"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

// ErrInvalidCount is returned for batch sizes outside 1..batch.max_size.
var ErrInvalidCount = errors.New("invalid batch count")

// -- Interfaces for Dependency Inversion --

// Authorizer is the license check run before every send.
type Authorizer interface {
	Authorize() error
}

// Memory records successful submissions.
type Memory interface {
	RecordSubmission(p submission.Payload) (*memory.Record, error)
}

// Deps are the collaborators of an Engine. Recorder, Archiver and Bus are
// optional.
type Deps struct {
	License  Authorizer
	Memory   Memory
	Browser  browser.Opener
	Filler   *filler.Sequencer
	Recorder records.Recorder
	Archiver archive.Archiver
	Bus      *events.Bus
}

// Engine performs sends. It does not serialize callers; Runner does.
//
// The ctx passed to Send and SendBatch is a stop signal, checked before the
// tab opens and between batch items. Browser operations run detached from it
// and are bounded by their own timeouts, so an item that reached the form is
// always submitted and recorded in full.
type Engine struct {
	deps    Deps
	cfg     config.BatchConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	archiveTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchiveTimeout bounds each archive call. Zero leaves it unbounded.
func WithArchiveTimeout(d time.Duration) Option {
	return func(e *Engine) { e.archiveTimeout = d }
}

// New returns an Engine.
func New(deps Deps, cfg config.BatchConfig, logger *zap.Logger, opts ...Option) *Engine {
	if deps.Recorder == nil {
		deps.Recorder = records.Nop()
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.Nop{}
	}
	e := &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("engine"),
		now:    time.Now,
	}
	if cfg.MinInterval > 0 {
		e.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SendResult is the outcome of a single send.
type SendResult struct {
	// Count is the intervention's submission count after this send.
	Count int `json:"count"`
}

// prepare runs the checks shared by Send and SendBatch. Nothing external is
// touched unless it succeeds.
func (e *Engine) prepare(p submission.Payload) error {
	if err := e.deps.License.Authorize(); err != nil {
		return err
	}
	return p.Validate()
}

// archive stores a snapshot. Failures never block the send, and the call is
// bounded by archive.timeout.
func (e *Engine) archive(ctx context.Context, p submission.Payload) {
	if e.archiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.archiveTimeout)
		defer cancel()
	}
	if _, err := e.deps.Archiver.Archive(ctx, p); err != nil {
		e.logger.Warn("Could not archive payload.", zap.Error(err))
	}
}

// record merges p into field memory and appends it to the audit log.
// Audit failures are logged; memory failures are returned. The form has
// already accepted p, so cancellation of ctx does not stop the append.
func (e *Engine) record(ctx context.Context, p submission.Payload, mode records.Mode) (int, error) {
	rec, err := e.deps.Memory.RecordSubmission(p)
	if err != nil {
		return 0, fmt.Errorf("form submitted but field memory update failed: %w", err)
	}
	if err := e.deps.Recorder.Append(context.WithoutCancel(ctx), records.New(p, mode, e.now())); err != nil {
		e.logger.Error("Failed to append audit record.", zap.Error(err))
	}
	_, count := rec.InterventionSummary(p.Intervention)
	return count, nil
}

func (e *Engine) publish(topic events.Topic, payload any) {
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(topic, payload)
	}
}

func (e *Engine) logEvent(jobID, level, msg string) {
	e.publish(events.TopicLog, events.Log{JobID: jobID, Level: level, Message: msg})
}

func countFailure(err error) {
	var ferr *filler.FillError
	if errors.As(err, &ferr) {
		observability.FillFailuresTotal.WithLabelValues(string(ferr.Stage)).Inc()
	}
}

// Send submits p once in a fresh tab.
func (e *Engine) Send(ctx context.Context, p submission.Payload) (SendResult, error) {
	return e.send(ctx, "", p)
}

func (e *Engine) send(ctx context.Context, jobID string, p submission.Payload) (SendResult, error) {
	mode := string(records.ModeSingle)
	if err := e.prepare(p); err != nil {
		observability.SubmissionsTotal.WithLabelValues(mode, "rejected").Inc()
		return SendResult{}, err
	}
	e.archive(ctx, p)

	if err := ctx.Err(); err != nil {
		observability.SubmissionsTotal.WithLabelValues(mode, "failed").Inc()
		return SendResult{}, fmt.Errorf("send cancelled: %w", err)
	}
	start := time.Now()
	page, err := e.deps.Browser.NewPage(ctx)
	if err != nil {
		observability.SubmissionsTotal.WithLabelValues(mode, "failed").Inc()
		return SendResult{}, fmt.Errorf("failed to open browser tab: %w", err)
	}
	defer page.Close()

	work := context.WithoutCancel(ctx)
	e.logEvent(jobID, "info", "Opening form...")
	if err := e.fillAndSubmit(work, page, p, true); err != nil {
		countFailure(err)
		observability.SubmissionsTotal.WithLabelValues(mode, "failed").Inc()
		e.logger.Error("Send failed.", zap.Error(err))
		e.logEvent(jobID, "error", err.Error())
		return SendResult{}, err
	}
	e.deps.Filler.Dismiss(work, page)

	count, err := e.record(work, p, records.ModeSingle)
	observability.SubmissionDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SubmissionsTotal.WithLabelValues(mode, "failed").Inc()
		return SendResult{}, err
	}
	observability.SubmissionsTotal.WithLabelValues(mode, "sent").Inc()

	e.logger.Info("Form sent.",
		zap.String("intervention", p.Intervention),
		zap.String("date", p.Date),
		zap.Int("count", count))
	e.logEvent(jobID, "info", fmt.Sprintf("Sent. %s count: %d", p.Intervention, count))
	return SendResult{Count: count}, nil
}

// fillAndSubmit optionally opens the form, then answers and submits it.
func (e *Engine) fillAndSubmit(ctx context.Context, page browser.Page, p submission.Payload, open bool) error {
	if open {
		if err := e.deps.Filler.Open(ctx, page, p.FormURL); err != nil {
			return err
		}
	}
	if err := e.deps.Filler.Answer(ctx, page, p); err != nil {
		return err
	}
	return e.deps.Filler.Submit(ctx, page)
}
