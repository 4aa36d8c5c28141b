package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/harun/cmdq/pkg/commands"
	"github.com/harun/cmdq/pkg/gateway"
	"github.com/spf13/cobra"
)

var (
	submitFile        string
	submitWait        string
	submitDescription string
	submitDir         string
	submitTimeout     string
	controlTimeoutMs  int
)

var submitCmd = &cobra.Command{
	Use:   "submit [shell script]",
	Short: "Append commands to the queue",
	Long: `Append commands to the tail of the queue.

  cmdq submit "make test"              queue a shell command
  cmdq submit --wait 5m                queue a pause
  cmdq submit --file batch.yaml        queue every spec in a JSON or YAML file`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued commands in order",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a command that has not started",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndReport(cmd, "queue.remove", map[string]interface{}{"id": args[0]}, "Removed "+args[0])
	},
}

var startQueueCmd = &cobra.Command{
	Use:   "start-queue",
	Short: "Start or resume processing the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callProcessor(cmd, "processor.start")
	},
}

var pauseQueueCmd = &cobra.Command{
	Use:   "pause-queue",
	Short: "Pause the running command and stop taking new ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callProcessor(cmd, "processor.stop")
	},
}

var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Abort the current command; the processor then waits for start-queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callProcessor(cmd, "processor.skip")
	},
}

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "JSON or YAML file holding one spec or a list")
	submitCmd.Flags().StringVar(&submitWait, "wait", "", "queue a wait command of this duration")
	submitCmd.Flags().StringVarP(&submitDescription, "description", "d", "", "command description")
	submitCmd.Flags().StringVar(&submitDir, "dir", "", "working directory of a shell command")
	submitCmd.Flags().StringVar(&submitTimeout, "timeout", "", "kill a shell command after this duration")

	for _, c := range []*cobra.Command{startQueueCmd, pauseQueueCmd, skipCmd} {
		c.Flags().IntVar(&controlTimeoutMs, "timeout-ms", -1, "wait this long for the processor to settle (negative uses the daemon default, 0 does not wait)")
	}

	rootCmd.AddCommand(submitCmd, listCmd, removeCmd, startQueueCmd, pauseQueueCmd, skipCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	specs, err := submitSpecs(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var result struct {
		IDs []commandqueue.CommandID `json:"ids"`
	}
	if err := newRPCClient(cfg).Call(cmd.Context(), "queue.add", map[string]interface{}{"spec": specs}, &result); err != nil {
		return err
	}
	for _, id := range result.IDs {
		cmd.Println(id)
	}
	return nil
}

// submitSpecs builds the spec list from exactly one of --file, --wait or a
// shell script argument
func submitSpecs(args []string) ([]commands.Spec, error) {
	sources := 0
	for _, set := range []bool{submitFile != "", submitWait != "", len(args) == 1} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, fmt.Errorf("give exactly one of a shell script, --wait or --file")
	}

	var specs []commands.Spec
	switch {
	case submitFile != "":
		format, err := commands.FormatFromPath(submitFile)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(submitFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", submitFile, err)
		}
		if specs, err = commands.Parse(data, format); err != nil {
			return nil, err
		}
	case submitWait != "":
		specs = []commands.Spec{{Kind: commands.KindWait, Description: submitDescription, Duration: submitWait}}
	default:
		specs = []commands.Spec{{
			Kind:        commands.KindShell,
			Description: submitDescription,
			Command:     strings.TrimSpace(args[0]),
			Dir:         submitDir,
			Timeout:     submitTimeout,
		}}
	}

	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("spec %d: %w", i, err)
		}
	}
	return specs, nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var result struct {
		Items []commandqueue.QueuedCommandSummary `json:"items"`
	}
	if err := newRPCClient(cfg).Call(cmd.Context(), "queue.list", nil, &result); err != nil {
		return err
	}
	if len(result.Items) == 0 {
		cmd.Println("Queue is empty")
		return nil
	}
	for i, item := range result.Items {
		cmd.Printf("%2d. %s  %-12s %s\n", i+1, item.ID, item.Summary.State, item.Summary.Description)
	}
	return nil
}

func callProcessor(cmd *cobra.Command, method string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var params map[string]interface{}
	if controlTimeoutMs >= 0 {
		params = map[string]interface{}{"timeoutMs": controlTimeoutMs}
	}

	var snap gateway.ProcessorSnapshot
	if err := newRPCClient(cfg).Call(cmd.Context(), method, params, &snap); err != nil {
		return err
	}
	printSnapshot(cmd, snap)
	return nil
}

func callAndReport(cmd *cobra.Command, method string, params map[string]interface{}, done string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := newRPCClient(cfg).Call(cmd.Context(), method, params, nil); err != nil {
		return err
	}
	cmd.Println(done)
	return nil
}
