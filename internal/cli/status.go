package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/harun/cmdq/internal/daemon"
	"github.com/harun/cmdq/pkg/gateway"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and processor status",
	Long:  `Show whether the cmdq daemon runs and, through the gateway, what the processor is doing.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pidFile := cfg.PIDFile()

	pid, err := daemon.ReadPIDFile(pidFile)
	if err != nil || !daemon.ProcessAlive(pid) {
		cmd.Println("Status: stopped")
		return nil
	}

	cmd.Println("Status: running")
	cmd.Printf("PID: %d\n", pid)
	if info, err := os.Stat(pidFile); err == nil {
		cmd.Printf("Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	if !cfg.Gateway.Enabled {
		return nil
	}
	client := newRPCClient(cfg)
	var snap gateway.ProcessorSnapshot
	if err := client.Call(cmd.Context(), "processor.state", nil, &snap); err != nil {
		cmd.Printf("Gateway: unreachable (%v)\n", err)
		return nil
	}
	printSnapshot(cmd, snap)

	var clients struct {
		Clients []gateway.ClientInfo `json:"clients"`
	}
	if err := client.Call(cmd.Context(), "gateway.clients", nil, &clients); err == nil {
		cmd.Printf("Observers: %d\n", len(clients.Clients))
	}
	return nil
}

func printSnapshot(cmd *cobra.Command, snap gateway.ProcessorSnapshot) {
	cmd.Printf("Processor: %s\n", snap.State)
	cmd.Printf("Queued: %d\n", snap.Queued)
	if snap.Current != nil {
		cmd.Printf("Current: %s %s (%s)\n", snap.Current.ID, snap.Current.Description, snap.Current.State)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
