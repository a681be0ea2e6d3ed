// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/engine"
	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/filler"
	"github.com/xkilldash9x/formpilot/internal/mocks"
	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/service"
)

// testFactory builds the real stack around a scripted browser page.
type testFactory struct {
	opener *mocks.PageOpener
}

func (f *testFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*service.Components, error) {
	c := service.NewComponents(cfg, logger)
	store, err := service.OpenMemory(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Memory = store
	c.Gate = service.NewGate(cfg, store, logger)

	recorder, err := records.Open(ctx, cfg.Records, filepath.Dir(store.Path()), logger)
	if err != nil {
		return nil, err
	}
	c.Recorder = recorder
	c.Bus = events.NewBus(logger, 64)
	c.Engine = engine.New(engine.Deps{
		License:  c.Gate,
		Memory:   store,
		Browser:  f.opener,
		Filler:   filler.New(cfg.Form, logger),
		Recorder: recorder,
		Bus:      c.Bus,
	}, cfg.Batch, logger)
	c.Runner = engine.NewRunner(c.Engine, c.Bus, logger)
	return c, nil
}

// harness runs commands against one state directory.
type harness struct {
	t       *testing.T
	dir     string
	cfgPath string
	page    *mocks.FormPage
	factory *testFactory
}

func newHarness(t *testing.T, extraConfig string) *harness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("store:\n  dir: %s\nrecords:\n  driver: sqlite\n%s", filepath.Join(dir, "state"), extraConfig)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	defaults := config.NewDefaultConfig()
	page := mocks.NewFormPage(defaults.Form.OptionSelector, defaults.Form.OptionAttribute,
		"Quase acidente", "Raízen", "Vale do Rosário", "08:00", "A", "Adm", "LOTO")
	return &harness{
		t:       t,
		dir:     dir,
		cfgPath: cfgPath,
		page:    page,
		factory: &testFactory{opener: &mocks.PageOpener{Page: page}},
	}
}

func newHarnessApp(h *harness) *app {
	return &app{v: viper.New(), logger: zaptest.NewLogger(h.t), factory: h.factory}
}

// run executes one command line with a fresh root command.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	root := newRootCmd(newHarnessApp(h))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", h.cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

// payloadArgs sets every form field explicitly.
func payloadArgs() []string {
	return []string{
		"--classificacao", "Quase acidente",
		"--empresa", "Raízen",
		"--unidade", "Vale do Rosário",
		"--data", "10/05/2024",
		"--hora", "08:00",
		"--turno", "A",
		"--area", "Adm",
		"--setor", "Moenda",
		"--atividade", "Inspeção",
		"--intervencao", "Bloqueio",
		"--cs", "1234",
		"--observacao", "LOTO",
		"--descricao", "Descrição",
		"--fiz", "Orientei",
		"--form-url", "https://forms.example.com/r/abc",
	}
}

// payloadArgsWith is payloadArgs with one flag's value replaced.
func payloadArgsWith(flag, value string) []string {
	args := payloadArgs()
	for i := 0; i < len(args); i += 2 {
		if args[i] == flag {
			args[i+1] = value
		}
	}
	return args
}
