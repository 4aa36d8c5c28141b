package cli

import (
	"fmt"

	"github.com/harun/cmdq/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up cmdq.
The wizard asks for the gateway port and shared secret, processor
auto-start, the spool watcher and the log level.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	wizard := config.NewWizardWithIO(cmd.InOrStdin(), cmd.OutOrStdout())

	cfg, err := wizard.Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	base, err := loader.Load()
	if err != nil {
		return err
	}
	cfg.DataDir = base.DataDir
	cfg.Schedules = base.Schedules
	cfg.ApplyPathDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	cmd.Printf("\nConfiguration saved to: %s\n", loader.GetConfigPath())
	cmd.Println("\nYou can now start cmdq with: cmdq serve")

	return nil
}
