package cli

import (
	"fmt"

	"github.com/harun/cmdq/internal/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "cmdq",
	Short: "cmdq - ordered command queue daemon",
	Long: `cmdq runs shell and wait commands one at a time, in queue order.
Commands arrive over the gateway, from a spool directory or from cron
schedules; the queue can be reordered, paused and resumed while it runs.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the cmdq command tree
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cmdq/cmdq.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// loadConfig loads the config file and applies the --log-level flag when
// it was set explicitly
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

func GetVersion() string {
	return version
}
