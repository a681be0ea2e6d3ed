// Package filler drives the external observation form through a browser Page:
// it answers the fourteen questions in order and submits.
package filler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

type questionKind int

const (
	// choice questions open a dropdown and pick an option by label.
	choice questionKind = iota
	// text questions take a single-line input.
	text
	// longText questions accept a textarea or an input.
	longText
)

type question struct {
	ordinal int
	field   submission.Field
	kind    questionKind
}

// questions is the form layout, in the order the form presents them.
var questions = []question{
	{1, submission.FieldClassification, choice},
	{2, submission.FieldCompany, choice},
	{3, submission.FieldUnit, choice},
	{4, submission.FieldDate, text},
	{5, submission.FieldTime, choice},
	{6, submission.FieldShift, choice},
	{7, submission.FieldArea, choice},
	{8, submission.FieldSector, text},
	{9, submission.FieldActivity, text},
	{10, submission.FieldIntervention, text},
	{11, submission.FieldCS, text},
	{12, submission.FieldObservation, choice},
	{13, submission.FieldDescription, longText},
	{14, submission.FieldActionTaken, longText},
}

// Sequencer answers the form. It holds no per-page state and is safe for
// concurrent use on different pages.
type Sequencer struct {
	cfg    config.FormConfig
	logger *zap.Logger
}

// New returns a Sequencer for the form layout in cfg.
func New(cfg config.FormConfig, logger *zap.Logger) *Sequencer {
	return &Sequencer{cfg: cfg, logger: logger.Named("filler")}
}

func (s *Sequencer) control(ordinal int) string {
	return fmt.Sprintf(s.cfg.QuestionControl, ordinal)
}

// Open navigates to url and waits for the form to render.
func (s *Sequencer) Open(ctx context.Context, page browser.Page, url string) error {
	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := page.Goto(navCtx, url); err != nil {
		return &FillError{Stage: StageNavigate, Cause: err}
	}
	return s.WaitReady(ctx, page)
}

// WaitReady blocks until the first question's control is visible.
func (s *Sequencer) WaitReady(ctx context.Context, page browser.Page) error {
	if err := page.WaitReady(ctx, s.control(1), s.cfg.ReadyTimeout); err != nil {
		return &FillError{Stage: StageWaitReady, Cause: err}
	}
	return nil
}

// Fill answers every question and submits.
func (s *Sequencer) Fill(ctx context.Context, page browser.Page, p submission.Payload) error {
	if err := s.Answer(ctx, page, p); err != nil {
		return err
	}
	return s.Submit(ctx, page)
}

// Answer fills the fourteen questions in form order without submitting.
func (s *Sequencer) Answer(ctx context.Context, page browser.Page, p submission.Payload) error {
	for _, q := range questions {
		value := p.Value(q.field)
		s.logger.Debug("Answering question.", zap.Int("question", q.ordinal), zap.String("field", string(q.field)))

		var err error
		switch q.kind {
		case choice:
			err = s.choose(ctx, page, q, value)
		case text:
			err = s.fill(ctx, page, q, fmt.Sprintf(s.cfg.QuestionInput, q.ordinal), value)
		case longText:
			err = s.fill(ctx, page, q, fmt.Sprintf(s.cfg.QuestionText, q.ordinal), value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) fill(ctx context.Context, page browser.Page, q question, selector, value string) error {
	if err := page.Fill(ctx, selector, value); err != nil {
		return &FillError{Stage: StageFill, Field: q.field, Cause: err}
	}
	return nil
}

// choose opens the question's dropdown and clicks the first option, in DOM
// order, whose label equals value.
func (s *Sequencer) choose(ctx context.Context, page browser.Page, q question, value string) error {
	if err := page.Click(ctx, s.control(q.ordinal), 0); err != nil {
		return &FillError{Stage: StageOpenOptions, Field: q.field, Cause: err}
	}

	if err := page.WaitReady(ctx, s.cfg.OptionSelector, s.cfg.OptionSettleTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FillError{Stage: StageOptionNotFound, Field: q.field, Cause: fmt.Errorf("no options rendered: %w", err)}
	}

	n, err := page.Count(ctx, s.cfg.OptionSelector)
	if err != nil {
		return &FillError{Stage: StageOpenOptions, Field: q.field, Cause: err}
	}
	for i := 0; i < n; i++ {
		label, ok, err := page.Attribute(ctx, s.cfg.OptionSelector, i, s.cfg.OptionAttribute)
		if err != nil {
			return &FillError{Stage: StageOpenOptions, Field: q.field, Cause: err}
		}
		if !ok || label != value {
			continue
		}
		if err := page.Click(ctx, s.cfg.OptionSelector, i); err != nil {
			return &FillError{Stage: StageOpenOptions, Field: q.field, Cause: err}
		}
		return nil
	}
	return &FillError{
		Stage: StageOptionNotFound,
		Field: q.field,
		Cause: fmt.Errorf("no option labelled %q among %d", value, n),
	}
}

// Submit clicks the first submit button whose label is present, trying the
// configured labels in order.
func (s *Sequencer) Submit(ctx context.Context, page browser.Page) error {
	for _, label := range s.cfg.SubmitLabels {
		selector := fmt.Sprintf(s.cfg.SubmitSelector, label)
		n, err := page.Count(ctx, selector)
		if err != nil {
			return &FillError{Stage: StageSubmit, Cause: err}
		}
		if n == 0 {
			continue
		}
		if err := page.Click(ctx, selector, 0); err != nil {
			return &FillError{Stage: StageSubmit, Cause: err}
		}
		s.logger.Debug("Form submitted.", zap.String("label", label))
		return nil
	}
	return &FillError{Stage: StageSubmitNotFound, Cause: fmt.Errorf("none of %v present", s.cfg.SubmitLabels)}
}

// Advance clicks the "submit another response" affordance and waits for a
// fresh form.
func (s *Sequencer) Advance(ctx context.Context, page browser.Page) error {
	if err := page.WaitReady(ctx, s.cfg.AnotherResponse, s.cfg.ReadyTimeout); err != nil {
		return &FillError{Stage: StageAdvance, Cause: err}
	}
	if err := page.Click(ctx, s.cfg.AnotherResponse, 0); err != nil {
		return &FillError{Stage: StageAdvance, Cause: err}
	}
	return s.WaitReady(ctx, page)
}

// Dismiss clicks the "submit another response" affordance if it shows up
// within a short grace period. It never fails the send.
func (s *Sequencer) Dismiss(ctx context.Context, page browser.Page) bool {
	grace := s.cfg.OptionSettleTimeout
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if err := page.WaitReady(ctx, s.cfg.AnotherResponse, grace); err != nil {
		return false
	}
	if err := page.Click(ctx, s.cfg.AnotherResponse, 0); err != nil {
		if !errors.Is(err, browser.ErrNotFound) {
			s.logger.Debug("Could not dismiss confirmation.", zap.Error(err))
		}
		return false
	}
	return true
}
