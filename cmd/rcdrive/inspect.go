package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/rcdrive/internal/transport"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show a Bluetooth vehicle's GATT table and the profile a link would use",
	Long: `Find a Bluetooth vehicle the same way drive does, list its services and
characteristics and mark the serial service, command characteristic and
telemetry characteristic that would be selected. Readable values are shown.

Use this when a module connects but does not react to commands.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

var (
	inspectAddress   string
	inspectFormat    string
	inspectReadLimit int
)

func init() {
	inspectCmd.Flags().StringVar(&inspectAddress, "address", "", "Bluetooth address to dial instead of scanning")
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "text", "Output format (text, json)")
	inspectCmd.Flags().IntVar(&inspectReadLimit, "read-limit", 64, "Max bytes shown per readable characteristic (0 to skip reads)")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	if inspectFormat != "text" && inspectFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", inspectFormat)
	}
	if inspectReadLimit < 0 {
		return fmt.Errorf("--read-limit must not be negative")
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	opts := cfg.TransportConfig().BLE
	if inspectAddress != "" {
		opts.Address = inspectAddress
	}

	target := "vehicle"
	if opts.Address != "" {
		target = opts.Address
	}
	progress := NewProgressPrinter(terminalOutput(cmd.ErrOrStderr()), "Inspecting "+target, "Scanning", "Done", "Failed")
	progress.Start()
	defer progress.Stop()

	report, err := transport.Inspect(commandContext(cmd), transport.InspectOptions{
		BLE:       opts,
		ReadLimit: inspectReadLimit,
		Progress:  progress.Callback(),
	}, logger)
	if err != nil {
		return err
	}
	progress.Stop()

	if inspectFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	displayGATTReport(cmd.OutOrStdout(), report)
	return nil
}

func displayGATTReport(out io.Writer, r *transport.GATTReport) {
	fmt.Fprintf(out, "Vehicle %s (%s)\n", r.Name, r.Address)
	if r.Compatible {
		fmt.Fprintf(out, "Profile: service %s, write %s, rx %s (%s)\n", r.Service, r.WriteChar, orNone(r.RxChar), r.Reception)
	} else {
		fmt.Fprintf(out, "Profile: incompatible (%s)\n", r.Reason)
	}

	for _, svc := range r.Services {
		fmt.Fprintf(out, "\nService %s", svc.UUID)
		if svc.Name != "" {
			fmt.Fprintf(out, "  %s", svc.Name)
		}
		if svc.Selected {
			fmt.Fprint(out, "  [selected]")
		}
		fmt.Fprintln(out)

		for _, c := range svc.Characteristics {
			fmt.Fprintf(out, "  %s", c.UUID)
			if c.Name != "" {
				fmt.Fprintf(out, "  %s", c.Name)
			}
			fmt.Fprintf(out, "  %s", strings.Join(c.Properties, ","))
			if len(c.Roles) > 0 {
				fmt.Fprintf(out, "  <%s>", strings.Join(c.Roles, ","))
			}
			fmt.Fprintln(out)
			switch {
			case c.ReadError != "":
				fmt.Fprintf(out, "      read failed: %s\n", c.ReadError)
			case c.Value != "":
				fmt.Fprintf(out, "      value: %s\n", c.Value)
			}
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
