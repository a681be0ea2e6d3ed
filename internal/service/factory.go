package service

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/archive"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/engine"
	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/filler"
	"github.com/xkilldash9x/formpilot/internal/license"
	"github.com/xkilldash9x/formpilot/internal/memory"
	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

// ComponentFactory creates the components a command needs. Commands depend
// on the interface so tests can substitute fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory returns the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// OpenMemory opens the field-memory store configured by cfg.
func OpenMemory(cfg *config.Config, logger *zap.Logger) (*memory.Store, error) {
	defaults := memory.Defaults{FormURL: cfg.Form.DefaultURL, Catalog: submission.DefaultCatalog()}
	store, err := memory.Open(cfg.Store.Dir, cfg.Store.File, defaults, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open field memory: %w", err)
	}
	return store, nil
}

// NewGate returns the license gate over store with the configured keys.
func NewGate(cfg *config.Config, store *memory.Store, logger *zap.Logger) *license.Gate {
	return license.NewGate(store, cfg.License.Keys, logger)
}

// Create wires the full stack. The browser is launched lazily by the first
// job, so Create itself never starts a browser process.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := NewComponents(cfg, logger)

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			_ = c.Shutdown(context.Background())
		}
	}()

	store, err := OpenMemory(cfg, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	c.Memory = store
	c.Gate = NewGate(cfg, store, logger)
	logger.Debug("Field memory opened.", zap.String("path", store.Path()))

	recorder, err := records.Open(ctx, cfg.Records, filepath.Dir(store.Path()), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open submission records: %w", err)
		return nil, initializationErr
	}
	c.Recorder = recorder
	logger.Debug("Submission records opened.", zap.String("driver", cfg.Records.Driver))

	c.Archiver = archive.Nop{}
	if cfg.Archive.Enabled {
		gh, err := archive.NewGitHubArchiver(cfg.Archive, logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		c.Archiver = gh
		logger.Debug("GitHub archive enabled.", zap.String("repo", cfg.Archive.RepoOwner+"/"+cfg.Archive.RepoName))
	}

	c.Bus = events.NewBus(logger, cfg.Server.EventBuffer)
	c.Browser = browser.NewManager(cfg.Browser, logger)

	c.Engine = engine.New(engine.Deps{
		License:  c.Gate,
		Memory:   c.Memory,
		Browser:  c.Browser,
		Filler:   filler.New(cfg.Form, logger),
		Recorder: c.Recorder,
		Archiver: c.Archiver,
		Bus:      c.Bus,
	}, cfg.Batch, logger, engine.WithArchiveTimeout(cfg.Archive.Timeout))
	c.Runner = engine.NewRunner(c.Engine, c.Bus, logger)

	logger.Info("All components initialized successfully.")
	return c, nil
}
