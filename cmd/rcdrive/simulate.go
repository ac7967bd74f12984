package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/rcdrive/internal/simulator"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated WiFi vehicle",
	Long: `Serve the vehicle WiFi API (/ws, /command, /sensor, /status) backed by a
simulated vehicle, for developing against without hardware.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simulateListen      string
	simulateInterval    time.Duration
	simulateNoWebSocket bool
)

func init() {
	simulateCmd.Flags().StringVar(&simulateListen, "listen", ":8080", "Address to listen on")
	simulateCmd.Flags().DurationVar(&simulateInterval, "telemetry-interval", simulator.DefaultTelemetryInterval, "Telemetry push cadence")
	simulateCmd.Flags().BoolVar(&simulateNoWebSocket, "no-websocket", false, "Refuse WebSocket upgrades to exercise the HTTP fallback")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	_, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := simulator.NewServer(simulator.Options{
		TelemetryInterval: simulateInterval,
		DisableWebSocket:  simulateNoWebSocket,
	}, logger)
	cmd.Printf("Simulated vehicle on %s (websocket %v)\n", simulateListen, !simulateNoWebSocket)
	return srv.ListenAndServe(ctx, simulateListen)
}
