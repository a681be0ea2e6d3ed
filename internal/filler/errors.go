package filler

import (
	"fmt"

	"github.com/xkilldash9x/formpilot/internal/submission"
)

// Stage names the step of the fill sequence that failed.
type Stage string

const (
	StageNavigate       Stage = "navigate"
	StageWaitReady      Stage = "wait-ready"
	StageOpenOptions    Stage = "open-options"
	StageOptionNotFound Stage = "option-not-found"
	StageFill           Stage = "fill"
	StageSubmitNotFound Stage = "submit-not-found"
	StageSubmit         Stage = "submit"
	StageAdvance        Stage = "advance"
)

// FillError reports an interaction failure against the external form. Field
// is empty for stages that are not tied to a question.
type FillError struct {
	Stage Stage
	Field submission.Field
	Cause error
}

func (e *FillError) Error() string {
	msg := fmt.Sprintf("form %s failed", e.Stage)
	if e.Field != "" {
		msg = fmt.Sprintf("form %s failed for %s", e.Stage, e.Field)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FillError) Unwrap() error { return e.Cause }
