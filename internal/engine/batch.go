package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

// State is a batch lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateOpening    State = "opening"
	StateFilling    State = "filling"
	StateSubmitting State = "submitting"
	StateAdvancing  State = "advancing"
	StateClosed     State = "closed"
	StateAborted    State = "aborted"
)

// BatchItem is one submitted item of a batch.
type BatchItem struct {
	Index int    `json:"index"`
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// BatchResult reports how far a batch got. Sent counts fully submitted
// items, including when the batch aborts.
type BatchResult struct {
	Total int         `json:"total"`
	Sent  int         `json:"sent"`
	Count int         `json:"count"`
	Items []BatchItem `json:"items"`
	State State       `json:"state"`
}

// batchRun tracks one SendBatch call.
type batchRun struct {
	e      *Engine
	jobID  string
	result BatchResult
	logger *zap.Logger
}

func (b *batchRun) enter(s State) {
	b.result.State = s
	b.logger.Debug("Batch state.", zap.String("state", string(s)), zap.Int("sent", b.result.Sent))
}

func (b *batchRun) progress(index int, date string) {
	b.e.publish(events.TopicProgress, events.Progress{
		JobID: b.jobID,
		Index: index,
		Total: b.result.Total,
		Sent:  b.result.Sent,
		Date:  date,
		State: string(b.result.State),
	})
}

// BatchSize resolves a requested count: zero means batch.size, anything
// outside 1..batch.max_size is rejected.
func (e *Engine) BatchSize(count int) (int, error) {
	if count == 0 {
		count = e.cfg.Size
	}
	limit := e.cfg.MaxSize
	if limit <= 0 {
		limit = count
	}
	if count < 1 || count > limit {
		return 0, fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidCount, count, limit)
	}
	return count, nil
}

// SendBatch submits count copies of template in one tab. Item i carries the
// template date minus i days. The first failure aborts the batch; items
// already sent stay sent. Cancelling ctx stops the batch at the next item
// boundary.
func (e *Engine) SendBatch(ctx context.Context, template submission.Payload, count int) (BatchResult, error) {
	return e.sendBatch(ctx, "", template, count)
}

func (e *Engine) sendBatch(ctx context.Context, jobID string, template submission.Payload, count int) (BatchResult, error) {
	b := &batchRun{
		e:      e,
		jobID:  jobID,
		result: BatchResult{State: StateIdle, Items: []BatchItem{}},
		logger: e.logger.With(zap.String("job_id", jobID)),
	}
	mode := string(records.ModeBatch)

	n, err := e.BatchSize(count)
	if err != nil {
		return b.result, err
	}
	b.result.Total = n
	if err := e.prepare(template); err != nil {
		observability.SubmissionsTotal.WithLabelValues(mode, "rejected").Inc()
		return b.result, err
	}
	e.archive(ctx, template)
	if err := ctx.Err(); err != nil {
		return b.abort(fmt.Errorf("batch cancelled before start: %w", err))
	}

	b.enter(StateOpening)
	e.logEvent(jobID, "info", fmt.Sprintf("Starting batch of %d.", n))
	page, err := e.deps.Browser.NewPage(ctx)
	if err != nil {
		return b.abort(fmt.Errorf("failed to open browser tab: %w", err))
	}
	defer page.Close()

	work := context.WithoutCancel(ctx)
	if err := e.deps.Filler.Open(work, page, template.FormURL); err != nil {
		return b.abort(err)
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return b.abort(fmt.Errorf("batch cancelled after %d of %d: %w", b.result.Sent, n, err))
		}
		if i > 0 && e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return b.abort(fmt.Errorf("batch cancelled after %d of %d: %w", b.result.Sent, n, err))
			}
		}

		item, err := template.ShiftDays(-i)
		if err != nil {
			return b.abort(err)
		}
		if err := b.submitOne(work, page, i, item); err != nil {
			return b.abort(err)
		}

		if i < n-1 {
			b.enter(StateAdvancing)
			if err := e.deps.Filler.Advance(work, page); err != nil {
				return b.abort(err)
			}
		}
	}

	b.enter(StateClosed)
	observability.BatchesTotal.WithLabelValues(string(StateClosed)).Inc()
	e.logger.Info("Batch complete.", zap.Int("sent", b.result.Sent), zap.Int("count", b.result.Count))
	e.logEvent(jobID, "info", fmt.Sprintf("Batch complete: %d sent.", b.result.Sent))
	return b.result, nil
}

func (b *batchRun) submitOne(ctx context.Context, page browser.Page, i int, item submission.Payload) error {
	e := b.e
	mode := string(records.ModeBatch)
	start := time.Now()

	b.enter(StateFilling)
	if err := e.deps.Filler.Answer(ctx, page, item); err != nil {
		return err
	}
	b.enter(StateSubmitting)
	if err := e.deps.Filler.Submit(ctx, page); err != nil {
		return err
	}

	count, err := e.record(ctx, item, records.ModeBatch)
	if err != nil {
		// The form already accepted the item.
		b.result.Sent++
		return err
	}
	observability.SubmissionDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	observability.SubmissionsTotal.WithLabelValues(mode, "sent").Inc()

	b.result.Sent++
	b.result.Count = count
	b.result.Items = append(b.result.Items, BatchItem{Index: i, Date: item.Date, Count: count})
	b.progress(i, item.Date)
	e.logEvent(b.jobID, "info", fmt.Sprintf("[%d/%d] sent %s", i+1, b.result.Total, item.Date))
	return nil
}

func (b *batchRun) abort(err error) (BatchResult, error) {
	b.enter(StateAborted)
	countFailure(err)
	observability.SubmissionsTotal.WithLabelValues(string(records.ModeBatch), "failed").Inc()
	observability.BatchesTotal.WithLabelValues(string(StateAborted)).Inc()

	b.e.logger.Error("Batch aborted.",
		zap.Int("sent", b.result.Sent),
		zap.Int("total", b.result.Total),
		zap.Error(err))
	b.e.logEvent(b.jobID, "error", fmt.Sprintf("Batch aborted after %d of %d: %v", b.result.Sent, b.result.Total, err))
	b.progress(b.result.Sent, "")
	return b.result, err
}
