package cli

import (
	"fmt"

	"github.com/harun/cmdq/internal/daemon"
	"github.com/harun/cmdq/internal/logger"
	"github.com/spf13/cobra"
)

var serveConsole bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cmdq daemon in the foreground",
	Long: `Run the cmdq daemon in the foreground until SIGINT or SIGTERM.
The daemon owns the queue and serves the gateway, the spool watcher and
the schedules configured in the config file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveConsole, "console", true, "also log to the terminal")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if pid, err := daemon.ReadPIDFile(cfg.PIDFile()); err == nil && daemon.ProcessAlive(pid) {
		return fmt.Errorf("daemon is already running (pid %d)", pid)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   serveConsole,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Secrets:   []string{cfg.Gateway.SharedSecret},
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	d.Wait()
	return nil
}
