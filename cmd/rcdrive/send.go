package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/rcdrive/internal/notify"
	"github.com/srg/rcdrive/internal/protocol"
	"github.com/srg/rcdrive/internal/ringchan"
	"github.com/srg/rcdrive/internal/telemetry"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <key> <value>",
	Short: "Send one frame to a vehicle",
	Long: `Connect, send a single {key:value} frame and disconnect.

Examples:
  rcdrive send --host 192.168.4.1 cmd F
  rcdrive send --transport ble func HORN
  rcdrive send --host 192.168.4.1 --listen 2s srv CENTER`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var sendListen time.Duration

func init() {
	addTargetFlags(sendCmd)
	sendCmd.Flags().DurationVar(&sendListen, "listen", 0, "Print telemetry received for this long after sending")
}

func runSend(cmd *cobra.Command, args []string) error {
	frame := protocol.Frame{Key: args[0], Value: args[1]}
	if err := frame.Validate(); err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	choice, err := resolveTarget(cmd, a)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	samples := ringchan.New[telemetry.Sample](telemetryBuffer)
	router := telemetry.NewRouter(nil, a.logger, telemetry.WithSampleChannel(samples))
	notifier := notify.NewConsole(cmd.ErrOrStderr(), true)

	mgr := a.newManager(notifier, router, false)
	if err := choice.connect(ctx, mgr); err != nil {
		return err
	}
	defer mgr.Disconnect()

	if err := mgr.SendFrame(ctx, frame.Key, frame.Value); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %s\n", frame)

	if sendListen > 0 {
		listenCtx, cancel := context.WithTimeout(ctx, sendListen)
		defer cancel()
		printSamples(listenCtx, samples, out)
	}
	return nil
}

// printSamples writes one line per sample until ctx ends.
func printSamples(ctx context.Context, samples *ringchan.RingChannel[telemetry.Sample], out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples.C():
			if !ok {
				return
			}
			fmt.Fprintf(out, "%s %v\n", s.Key(), s)
		}
	}
}
