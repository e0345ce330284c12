package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ruscigno/vprism/pkg/config"
	"github.com/Ruscigno/vprism/pkg/logging"
)

// Version is stamped at build time with -ldflags "-X github.com/Ruscigno/vprism/cmd.Version=...".
var Version = "dev"

// appVersion prefers the configured server.version over the build version.
func appVersion(cfg config.Config) string {
	if cfg.Server.Version != "" {
		return cfg.Server.Version
	}
	return Version
}

var cfgFile string

// runtime is the process-wide context built once per command invocation.
type runtime struct {
	manager *config.Manager
	cfg     config.Config
	logger  *zap.Logger
	level   zap.AtomicLevel
}

var rt runtime

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "vprism",
	Short: "Financial market data access layer",
	Long: `vprism fetches normalized market data from several providers
and serves it over a versioned HTTP API.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Config problems are reported once the real logger exists.
		bootstrap := zap.NewNop()
		rt.manager = config.NewManager(config.ResolvePath(cfgFile), bootstrap)
		rt.cfg = rt.manager.Load()
		rt.logger, rt.level = logging.SetupLogger(rt.cfg.Logging)
		rt.manager = config.NewManager(config.ResolvePath(cfgFile), rt.logger)
		rt.cfg = rt.manager.Load()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt.logger != nil {
			// Syncing stdout fails on some terminals.
			_ = rt.logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default $"+config.ConfigFileEnv+" or $HOME/.vprism/config.toml)")
}
