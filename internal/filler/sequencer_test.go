package filler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/mocks"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

func formConfig() config.FormConfig {
	return config.NewDefaultConfig().Form
}

func payload() submission.Payload {
	return submission.Payload{
		Classification: "Quase acidente",
		Company:        "Raízen",
		Unit:           "Vale do Rosário",
		Date:           "10/05/2024",
		Time:           "08:00",
		Shift:          "A",
		Area:           "Adm",
		Sector:         "Moenda",
		Activity:       "Inspeção",
		Intervention:   "Bloqueio",
		CS:             1234,
		Observation:    "LOTO",
		Description:    "Descrição",
		ActionTaken:    "Orientei",
		FormURL:        "https://forms.example.com/r/abc",
	}
}

// formOptions renders every label the payload needs, plus decoys.
func formOptions() []string {
	return []string{"Comportamento inseguro", "Quase acidente", "Raízen", "Vale do Rosário", "08:00", "A", "Adm", "LOTO"}
}

func newPage(cfg config.FormConfig, options ...string) *mocks.FormPage {
	return mocks.NewFormPage(cfg.OptionSelector, cfg.OptionAttribute, options...)
}

func TestFill(t *testing.T) {
	cfg := formConfig()
	page := newPage(cfg, formOptions()...)
	s := New(cfg, zaptest.NewLogger(t))

	require.NoError(t, s.Fill(context.Background(), page, payload()))

	fills := page.Fills()
	require.Len(t, fills, 7)
	assert.Equal(t, mocks.FillCall{Selector: fmt.Sprintf(cfg.QuestionInput, 4), Value: "10/05/2024"}, fills[0])
	assert.Equal(t, mocks.FillCall{Selector: fmt.Sprintf(cfg.QuestionInput, 11), Value: "1234"}, fills[4])
	assert.Equal(t, mocks.FillCall{Selector: fmt.Sprintf(cfg.QuestionText, 13), Value: "Descrição"}, fills[5])
	assert.Equal(t, mocks.FillCall{Selector: fmt.Sprintf(cfg.QuestionText, 14), Value: "Orientei"}, fills[6])

	clicks := page.Clicks()
	assert.Equal(t, fmt.Sprintf(cfg.QuestionControl, 1)+"#0", clicks[0])
	assert.Equal(t, cfg.OptionSelector+"#1", clicks[1], "classification picks its own label")
	assert.Equal(t, fmt.Sprintf(cfg.SubmitSelector, "Enviar")+"#0", clicks[len(clicks)-1])
}

func TestChooseFirstMatchWins(t *testing.T) {
	cfg := formConfig()
	page := newPage(cfg, "A", "B", "A")
	s := New(cfg, zaptest.NewLogger(t))

	q := question{ordinal: 6, field: submission.FieldShift, kind: choice}
	require.NoError(t, s.choose(context.Background(), page, q, "A"))
	assert.Equal(t, []string{fmt.Sprintf(cfg.QuestionControl, 6) + "#0", cfg.OptionSelector + "#0"}, page.Clicks())
}

func TestFillOptionNotFound(t *testing.T) {
	cfg := formConfig()
	options := formOptions()
	page := newPage(cfg, options[:len(options)-1]...) // no "LOTO"
	s := New(cfg, zaptest.NewLogger(t))

	err := s.Fill(context.Background(), page, payload())

	var ferr *FillError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StageOptionNotFound, ferr.Stage)
	assert.Equal(t, submission.FieldObservation, ferr.Field)
	assert.Contains(t, err.Error(), "observacao")
}

func TestFillNoOptionsRendered(t *testing.T) {
	cfg := formConfig()
	page := newPage(cfg)
	s := New(cfg, zaptest.NewLogger(t))

	err := s.Fill(context.Background(), page, payload())
	var ferr *FillError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StageOptionNotFound, ferr.Stage)
	assert.Equal(t, submission.FieldClassification, ferr.Field)
}

func TestSubmitFallback(t *testing.T) {
	cfg := formConfig()
	s := New(cfg, zaptest.NewLogger(t))
	primary := fmt.Sprintf(cfg.SubmitSelector, "Enviar")
	alternate := fmt.Sprintf(cfg.SubmitSelector, "Submeter")

	t.Run("alternate label", func(t *testing.T) {
		page := newPage(cfg)
		page.SetCount(primary, 0)
		require.NoError(t, s.Submit(context.Background(), page))
		assert.Equal(t, []string{alternate + "#0"}, page.Clicks())
	})

	t.Run("no submit control", func(t *testing.T) {
		page := newPage(cfg)
		page.SetCount(primary, 0)
		page.SetCount(alternate, 0)
		err := s.Submit(context.Background(), page)
		var ferr *FillError
		require.ErrorAs(t, err, &ferr)
		assert.Equal(t, StageSubmitNotFound, ferr.Stage)
		assert.Empty(t, page.Clicks())
	})
}

func TestFillInteractionErrorIsWrapped(t *testing.T) {
	cfg := formConfig()
	page := newPage(cfg, formOptions()...)
	boom := errors.New("node detached")
	page.Hook = func(op, selector string, _ int) error {
		if op == "fill" && selector == fmt.Sprintf(cfg.QuestionInput, 9) {
			return boom
		}
		return nil
	}
	s := New(cfg, zaptest.NewLogger(t))

	err := s.Fill(context.Background(), page, payload())
	var ferr *FillError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StageFill, ferr.Stage)
	assert.Equal(t, submission.FieldActivity, ferr.Field)
	assert.ErrorIs(t, err, boom)
}

func TestOpenAndAdvance(t *testing.T) {
	cfg := formConfig()
	s := New(cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	page := newPage(cfg)
	require.NoError(t, s.Open(ctx, page, "https://forms.example.com/r/abc"))
	assert.Equal(t, []string{"https://forms.example.com/r/abc"}, page.URLs())

	require.NoError(t, s.Advance(ctx, page))
	assert.Equal(t, []string{cfg.AnotherResponse + "#0"}, page.Clicks())

	page.SetCount(fmt.Sprintf(cfg.QuestionControl, 1), 0)
	err := s.WaitReady(ctx, page)
	var ferr *FillError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, StageWaitReady, ferr.Stage)
}

func TestDismissIsBestEffort(t *testing.T) {
	cfg := formConfig()
	s := New(cfg, zaptest.NewLogger(t))

	page := newPage(cfg)
	assert.True(t, s.Dismiss(context.Background(), page))

	page = newPage(cfg)
	page.SetCount(cfg.AnotherResponse, 0)
	assert.False(t, s.Dismiss(context.Background(), page))
	assert.Empty(t, page.Clicks())
}

// deadlinePage records the deadline Goto was given.
type deadlinePage struct {
	*mocks.FormPage
	remaining time.Duration
}

func (p *deadlinePage) Goto(ctx context.Context, url string) error {
	if deadline, ok := ctx.Deadline(); ok {
		p.remaining = time.Until(deadline)
	}
	return p.FormPage.Goto(ctx, url)
}

func TestOpenBoundsNavigationByConfig(t *testing.T) {
	cfg := formConfig()
	cfg.NavigationTimeout = 90 * time.Second
	page := &deadlinePage{FormPage: newPage(cfg, formOptions()...)}
	s := New(cfg, zaptest.NewLogger(t))

	ctx := context.WithoutCancel(context.Background())
	require.NoError(t, s.Open(ctx, page, "https://forms.example.com/r/abc"))
	assert.Greater(t, page.remaining, 80*time.Second)
	assert.LessOrEqual(t, page.remaining, 90*time.Second)
}
