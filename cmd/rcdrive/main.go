package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rcdrive",
	Short: "Remote-controlled vehicle console",
	Long: `Drive a remote-controlled vehicle over Bluetooth Low Energy or WiFi.

- Drive from the keyboard in hold-to-move or toggle-to-move mode
- Send single frames for scripting and firmware bring-up
- Scan for compatible Bluetooth modules and inspect their GATT profile
- Manage device history and settings, export and import them
- Run a simulated WiFi vehicle for development`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("rcdrive %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(driveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(simulateCmd)

	addGlobalFlags(rootCmd)

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

// addGlobalFlags registers the persistent flags shared by every command.
func addGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("config", defaultConfigPath, "Path to the YAML configuration file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.Bool("verbose", false, "Shorthand for --log-level debug")
	pf.String("store", "", "Persistence backend (file, redis, memory)")
	pf.String("store-dir", "", "Directory for the file store")
}
