// Package service builds the application's components from configuration
// and tears them down in order.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/api"
	"github.com/xkilldash9x/formpilot/internal/archive"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/engine"
	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/license"
	"github.com/xkilldash9x/formpilot/internal/memory"
	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

// Components holds every initialized service. Fields left nil were not
// requested or failed to start; Shutdown skips them.
type Components struct {
	Config   *config.Config
	Memory   *memory.Store
	Gate     *license.Gate
	Browser  *browser.Manager
	Recorder records.Recorder
	Archiver archive.Archiver
	Bus      *events.Bus
	Engine   *engine.Engine
	Runner   *engine.Runner

	logger *zap.Logger
}

// API returns an HTTP server over the components.
func (c *Components) API() *api.Server {
	handlers := api.NewHandlers(api.Deps{
		Gate:        c.Gate,
		Memory:      c.Memory,
		Runner:      c.Runner,
		Recorder:    c.Recorder,
		Bus:         c.Bus,
		Catalog:     submission.DefaultCatalog(),
		DefaultURL:  c.Config.Form.DefaultURL,
		AdminSecret: c.Config.Server.AdminSecret,
	}, c.log())
	return api.NewServer(c.Config.Server, handlers, c.log())
}

// NewComponents assembles Components from already built parts.
func NewComponents(cfg *config.Config, logger *zap.Logger) *Components {
	return &Components{Config: cfg, logger: logger}
}

func (c *Components) log() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

// Shutdown closes components in reverse dependency order: running jobs
// first, then the event bus, the browser and the audit store.
func (c *Components) Shutdown(ctx context.Context) error {
	logger := c.log()
	logger.Debug("Beginning components shutdown sequence.")
	var errs []error

	if c.Runner != nil {
		if err := c.Runner.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		logger.Debug("Runner stopped.")
	}
	if c.Bus != nil {
		c.Bus.Shutdown()
	}
	if c.Browser != nil {
		if err := c.Browser.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("browser shutdown: %w", err))
		}
		logger.Debug("Browser manager shut down.")
	}
	if c.Recorder != nil {
		if err := c.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("records close: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.Warn("Components shut down with errors.", zap.Error(err))
		return err
	}
	logger.Info("All components shut down.")
	return nil
}
