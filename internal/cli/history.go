package cli

import (
	"time"

	"github.com/harun/cmdq/pkg/history"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently finished commands",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var result struct {
		Runs []history.Run `json:"runs"`
	}
	params := map[string]interface{}{"limit": historyLimit}
	if err := newRPCClient(cfg).Call(cmd.Context(), "history.list", params, &result); err != nil {
		return err
	}
	if len(result.Runs) == 0 {
		cmd.Println("No finished commands yet")
		return nil
	}
	for _, run := range result.Runs {
		line := run.FinishedAt.Local().Format(time.DateTime) + "  " +
			run.CommandID + "  " + run.State + "  " + formatDuration(run.Duration) + "  " + run.Description
		if run.Error != "" {
			line += "  (" + run.Error + ")"
		}
		cmd.Println(line)
	}
	return nil
}
