// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/service"
)

// app is the state shared by every command of one root command instance.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
	factory service.ComponentFactory
}

// NewRootCmd builds the command tree with the production component factory.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{v: viper.New(), factory: service.NewComponentFactory()})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "formpilot",
		Short:         "FormPilot fills and submits safety-intervention forms.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newServeCmd(a),
		newSendCmd(a),
		newBatchCmd(a),
		newLicenseCmd(a),
		newMemoryCmd(a),
		newExportCmd(a),
		newTokenCmd(a),
		newLogsCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command under ctx.
func Execute(ctx context.Context) error {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// initialize reads the config file and environment, then sets up logging.
func (a *app) initialize() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("FORMPILOT")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()
	config.SetDefaults(a.v)

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger == nil {
		observability.InitializeLogger(cfg.Logger)
		a.logger = observability.GetLogger()
	}
	a.logger.Debug("Configuration loaded.", zap.String("version", Version), zap.String("config", a.v.ConfigFileUsed()))
	return nil
}

// withComponents creates the full component set, runs fn and shuts
// everything down, keeping fn's error first.
func (a *app) withComponents(ctx context.Context, fn func(*service.Components) error) (err error) {
	comps, err := a.factory.Create(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if serr := comps.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = serr
		}
	}()
	return fn(comps)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
