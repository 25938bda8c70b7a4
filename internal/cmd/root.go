package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/archivist/gateway/internal/config"
	"github.com/archivist/gateway/internal/observability"
)

const serviceName = "archivist-gateway"

// app carries what PersistentPreRunE resolved for the running command.
type app struct {
	configFile string
	envFile    string
	config     *config.Config
	logger     *zap.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Rate limiting edge gateway for the Archivist API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (optional; environment variables take precedence)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newMigrateCommand(a))
	root.AddCommand(newRateLimitCommand(a))

	return root
}

// Execute runs the CLI. It is called by main.main().
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) init() error {
	if a.envFile != "" {
		// Variables already present in the environment are not overridden.
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(serviceName, cfg.Environment, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	a.config = cfg
	a.logger = logger
	return nil
}
