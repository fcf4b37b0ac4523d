// Package cmd defines and implements the CLI commands for the monitor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/app"
	"github.com/JakeFAU/trizel-monitor/internal/archive"
	"github.com/JakeFAU/trizel-monitor/internal/config"
	"github.com/JakeFAU/trizel-monitor/internal/logging"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. Tests inject a fake through newApp.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetClock() monitor.Clock
	GetRunner(ctx context.Context) (pipeline.Runner, error)
	GetArchive() *archive.Archive
	Serve(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile        string
	envFile        string
	overwrite      bool
	overwriteToday bool

	app App
}

// closeApp releases the App, if one was built. Cobra skips post-run hooks
// when a command fails, so this runs after Execute instead.
func (o *rootOptions) closeApp() {
	if o.app == nil {
		return
	}
	o.app.Close()
	_ = o.app.GetLogger().Sync()
	o.app = nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Daily provenance snapshots of published data about a named object.",
		Long: `monitor retrieves published data about a single object from official
HTTP sources, keeps the raw response bytes and writes one snapshot and
manifest pair per UTC day. Existing days are never rewritten unless an
overwrite flag asks for it.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the App after flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (YAML)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before the config (default .env when present)")
	flags.BoolVar(&opts.overwrite, "overwrite", false, "rewrite every processed day")
	flags.BoolVar(&opts.overwriteToday, "overwrite-today", false, "rewrite the current UTC day when its content changed")

	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newBackfillCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return config.Config{}, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("configuration error: %w", err)
	}
	if opts.overwrite {
		cfg.Policy.Overwrite = true
	}
	if opts.overwriteToday {
		cfg.Policy.OverwriteToday = true
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func execute(ctx context.Context, args []string, stdout io.Writer) error {
	opts := &rootOptions{}
	defer opts.closeApp()
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}
