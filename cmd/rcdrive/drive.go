package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/rcdrive/internal/connection"
	"github.com/srg/rcdrive/internal/groutine"
	"github.com/srg/rcdrive/internal/input"
	"github.com/srg/rcdrive/internal/ringchan"
	"github.com/srg/rcdrive/internal/telemetry"
	"github.com/srg/rcdrive/internal/transport"
)

// driveCmd represents the drive command
var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Connect to a vehicle and drive it from the keyboard",
	Long: `Connect to a vehicle and drive it from the keyboard.

Keys:
  w a s d      forward, left, back, right
  z            emergency stop
  arrows       camera servo (released arrows re-center)
  space        center servo
  h l o        horn, lights, servo sweep
  ctrl+a       autonomous mode
  m            switch hold/toggle drive mode
  + / -        speed up / down
  r            reconnect to the last device
  ?            show this help
  q, ctrl+c    quit

Terminals do not report key releases, so a key counts as released when no
auto-repeat arrives within --release-window. Keep the window longer than the
OS auto-repeat delay (660ms on X11), or a held key stops and restarts before
repeats begin.`,
	RunE: runDrive,
}

var (
	driveMode          string
	driveMetricsAddr   string
	driveReleaseWindow time.Duration
	driveNoColor       bool
)

const (
	telemetryBuffer = 32

	defaultReleaseWindow = 750 * time.Millisecond
)

func init() {
	addTargetFlags(driveCmd)
	driveCmd.Flags().StringVar(&driveMode, "mode", "hold", "Drive mode (hold, toggle)")
	driveCmd.Flags().StringVar(&driveMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	driveCmd.Flags().DurationVar(&driveReleaseWindow, "release-window", defaultReleaseWindow, "Silence after which a held key counts as released; must exceed the OS key-repeat delay")
	driveCmd.Flags().BoolVar(&driveNoColor, "no-color", false, "Disable colored output")
}

func runDrive(cmd *cobra.Command, _ []string) error {
	mode, err := input.ParseMode(driveMode)
	if err != nil {
		return err
	}
	if driveReleaseWindow <= 0 {
		return fmt.Errorf("--release-window must be positive")
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
	metricsAddr := driveMetricsAddr
	if metricsAddr == "" {
		metricsAddr = a.cfg.MetricsAddr
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	con := newConsole(out, driveNoColor, func() bool { return a.settings.Get().SoundEffects })

	samples := ringchan.New[telemetry.Sample](telemetryBuffer)
	router := telemetry.NewRouter(nil, a.logger,
		telemetry.WithObserver(a.metrics),
		telemetry.WithSampleChannel(samples))
	groutine.Go(ctx, "telemetry-render", func(ctx context.Context) {
		renderTelemetry(ctx, samples, con)
	})
	defer samples.Close()

	mgr := a.newManager(con, router, true)
	resolver := input.NewResolver(mgr, a.logger)
	mgr.OnReset(resolver.Reset)
	mgr.OnStateChange(func(st connection.State, kind transport.Kind) {
		a.logger.WithFields(logrus.Fields{
			"state":     st.String(),
			"transport": kind.String(),
		}).Debug("Connection state changed")
		if st == connection.Connected && mode != input.Hold {
			// Reset returns to Hold on every disconnect.
			groutine.Go(ctx, "restore-mode", func(ctx context.Context) {
				if err := resolver.SetMode(ctx, mode); err != nil {
					a.logger.WithError(err).Warn("Failed to restore drive mode")
				}
			})
		}
	})
	defer mgr.Disconnect()

	if metricsAddr != "" {
		groutine.Go(ctx, "metrics", func(ctx context.Context) {
			if err := a.metrics.Serve(ctx, metricsAddr, a.logger); err != nil {
				a.logger.WithError(err).Error("Metrics server failed")
			}
		})
	}

	if err := choice.connect(ctx, mgr); err != nil {
		return err
	}

	restore, err := enterRawMode(os.Stdin)
	if err != nil {
		return err
	}
	defer restore()

	fmt.Fprint(out, "Driving. Press ? for keys, q to quit.\r\n")
	err = driveLoop(ctx, os.Stdin, out, mgr, resolver, driveReleaseWindow, a.logger)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func renderTelemetry(ctx context.Context, samples *ringchan.RingChannel[telemetry.Sample], sink telemetry.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples.C():
			if !ok {
				return
			}
			telemetry.Dispatch(sink, s)
		}
	}
}

// enterRawMode switches a terminal stdin to raw mode. Non-terminal input is
// read as is so key scripts can be piped in.
func enterRawMode(f *os.File) (func(), error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to enter raw terminal mode: %w", err)
	}
	return func() { _ = term.Restore(fd, old) }, nil
}

// driveLoop feeds keyboard input to the resolver until quit, EOF or ctx ends.
func driveLoop(ctx context.Context, in io.Reader, out io.Writer, mgr *connection.Manager, resolver *input.Resolver, window time.Duration, logger *logrus.Logger) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	groutine.Go(ctx, "stdin-reader", func(ctx context.Context) {
		buf := make([]byte, 64)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				select {
				case chunks <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	})

	releaser := newKeyReleaser(window, func(key string) {
		if err := resolver.KeyUp(ctx, key); err != nil {
			logger.WithError(err).WithField("key", key).Debug("Key release failed")
		}
	})
	defer releaser.Stop()

	var dec keyDecoder
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case data := <-chunks:
			for _, ev := range dec.Feed(data) {
				switch {
				case ev.quit:
					return nil
				case ev.help:
					printKeyHelp(out)
				case ev.key == "r" && !mgr.Connected():
					reconnectLast(ctx, mgr, logger)
				default:
					if err := resolver.KeyDown(ctx, ev.key, ev.mods); err != nil {
						logger.WithError(err).WithField("key", ev.key).Debug("Key press failed")
					}
					releaser.Touch(ev.key)
				}
			}
		}
	}
}

func reconnectLast(ctx context.Context, mgr *connection.Manager, logger *logrus.Logger) {
	groutine.Go(ctx, "manual-reconnect", func(ctx context.Context) {
		if err := mgr.ReconnectTo(ctx, "1"); err != nil {
			logger.WithError(err).Debug("Manual reconnect failed")
		}
	})
}

func printKeyHelp(out io.Writer) {
	for _, line := range []string{
		"w a s d  move      z  stop       arrows  servo   space  center",
		"h horn   l lights  o servo      ctrl+a  auto    m      hold/toggle",
		"+ faster - slower  r reconnect  q       quit",
	} {
		fmt.Fprint(out, line+"\r\n")
	}
}
