package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolgate/internal/app"
)

type rootOptions struct {
	configPath string
	jsonOutput bool
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := rootOptions{
		configPath: "toolgate.yaml",
	}

	root := &cobra.Command{
		Use:   "toolgated",
		Short: "Connector gateway syncing a signed service map into a versioned tool registry",
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to toolgate config file")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output JSON")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newSyncCmd(logger, &opts),
		newValidateCmd(logger, &opts),
		newToolsCmd(logger, &opts),
		newVersionCmd(&opts),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the connector gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(logger)
			return application.Serve(ctx, app.ServeConfig{
				ConfigPath: opts.configPath,
			})
		},
	}
}

func newSyncCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one service-map sync and report per-connector outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(logger)
			result, err := application.SyncOnce(ctx, app.SyncConfig{
				ConfigPath: opts.configPath,
				Force:      force,
			})
			if err != nil {
				return err
			}
			return printSyncResult(result, opts.jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "refetch the manifest even when the cached copy is fresh")
	return cmd
}

func newValidateCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without contacting connectors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application := app.New(logger)
			return application.ValidateConfig(cmd.Context(), app.ValidateConfig{
				ConfigPath: opts.configPath,
			})
		},
	}
}

func newToolsCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Sync once and list the registered tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(logger)
			tools, err := application.ListTools(ctx, app.ToolsConfig{
				ConfigPath: opts.configPath,
				Prefix:     prefix,
			})
			if err != nil {
				return err
			}
			return printTools(tools, opts.jsonOutput)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "filter tools by qualified-name prefix (e.g. github.)")
	return cmd
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(*cobra.Command, []string) error {
			return printVersion(opts.jsonOutput)
		},
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
