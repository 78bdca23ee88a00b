package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"storefront/internal/config"
	"storefront/pkg/logger"
)

// GlobalFlags are the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

type contextKey struct{}

// NewRootCmd builds the storefront command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront - terminal client for the commerce agent",
		Long: `Storefront connects to the commerce backend over a WebSocket,
keeps the cart, price overrides and active agent in sync, and renders
the streamed assistant conversation in the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			configPath := globalFlags.ConfigPath
			if configPath == "" {
				var err error
				configPath, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if err := logger.Init(logger.LogConfig{
				Level:      effectiveLogLevel(cfg.Log.Level, globalFlags),
				Format:     cfg.Log.Format,
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			}); err != nil {
				return err
			}

			if _, err := os.Stat(config.Path()); err == nil {
				flags := globalFlags
				config.Watch(func(c *config.Config) {
					logger.SetLevel(effectiveLogLevel(c.Log.Level, flags))
					logger.Info().Str("level", c.Log.Level).Msg("config reloaded")
				})
			}

			storagePath := cfg.Storage.Path
			if storagePath == "" {
				storagePath, err = config.DefaultDataPath()
				if err != nil {
					return err
				}
			}

			cliCtx := NewCLIContext(cfg, configPath, storagePath, globalFlags.Verbose, globalFlags.Quiet)
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewChatCmd())
	rootCmd.AddCommand(NewSessionCmd())
	rootCmd.AddCommand(NewDoctorCmd())

	return rootCmd
}

// effectiveLogLevel applies --verbose and --quiet on top of the configured level.
func effectiveLogLevel(level string, flags GlobalFlags) string {
	if flags.Verbose {
		return "debug"
	}
	if flags.Quiet {
		return "error"
	}
	return level
}

// GetCLIContext returns the context installed by the root pre-run hook.
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, ok := ctx.Value(contextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cliCtx
}
