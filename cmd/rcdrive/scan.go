package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/spf13/cobra"

	"github.com/srg/rcdrive/internal/device"
	"github.com/srg/rcdrive/internal/transport"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for compatible Bluetooth vehicles",
	Long: fmt.Sprintf(`Scan for Bluetooth modules whose advertised name starts with one of
the known vehicle prefixes (%s).`, strings.Join(device.NamePrefixes, ", ")),
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

// scanResult is one discovered vehicle.
type scanResult struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	RSSI     int       `json:"rssi"`
	LastSeen time.Time `json:"last_seen"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("--duration must be positive")
	}

	_, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, scanDuration)
	defer cancel()

	logger.WithField("duration", scanDuration).Info("Scanning for vehicles...")
	found := hashmap.New[string, scanResult]()
	progress := NewCountdownProgressPrinter(terminalOutput(cmd.ErrOrStderr()), "Scanning for vehicles", "Listening", scanDuration)
	progress.Start()
	err = transport.Scan(ctx, false, func(adv transport.Advertisement) {
		found.Set(adv.Addr(), scanResult{
			Name:     adv.LocalName(),
			Address:  adv.Addr(),
			RSSI:     adv.RSSI(),
			LastSeen: time.Now(),
		})
	})
	progress.Stop()
	if err != nil {
		return err
	}

	results := make([]scanResult, 0, found.Len())
	found.Range(func(_ string, r scanResult) bool {
		results = append(results, r)
		return true
	})
	sort.Slice(results, func(i, j int) bool {
		if results[i].RSSI != results[j].RSSI {
			return results[i].RSSI > results[j].RSSI
		}
		return results[i].Address < results[j].Address
	})

	if scanFormat == "json" {
		return displayScanJSON(cmd.OutOrStdout(), results)
	}
	return displayScanTable(cmd.OutOrStdout(), results)
}

func displayScanTable(out io.Writer, results []scanResult) error {
	if len(results) == 0 {
		fmt.Fprintln(out, "No compatible vehicles discovered")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", r.Name, r.Address, r.RSSI)
	}
	return w.Flush()
}

func displayScanJSON(out io.Writer, results []scanResult) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}
