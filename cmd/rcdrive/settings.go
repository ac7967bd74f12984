package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/rcdrive/internal/settings"
)

// settingsCmd represents the settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change operator preferences",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long:  "Change one setting. Known keys: " + strings.Join(settings.Keys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the factory settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsReset,
}

var settingsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write settings and device history to a JSON file (- for stdout)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsExport,
}

var settingsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge settings and device history from an exported JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsImport,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
	settingsCmd.AddCommand(settingsExportCmd)
	settingsCmd.AddCommand(settingsImportCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true
	return displaySettings(cmd.OutOrStdout(), a.settings.Get())
}

func displaySettings(out io.Writer, s settings.Settings) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true

	if err := a.settings.Set(commandContext(cmd), args[0], args[1]); err != nil {
		return err
	}
	cmd.Printf("%s = %s\n", args[0], args[1])
	return nil
}

func runSettingsReset(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true

	if err := a.settings.Reset(commandContext(cmd)); err != nil {
		return err
	}
	cmd.Println("Settings restored to defaults")
	return nil
}

func runSettingsExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true

	data, err := a.settings.Export(a.history, time.Now())
	if err != nil {
		return err
	}
	if args[0] == "-" {
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[0], err)
	}
	cmd.Printf("Exported settings and %d device(s) to %s\n", a.history.Len(), args[0])
	return nil
}

func runSettingsImport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true

	var data []byte
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	res, err := a.settings.Import(commandContext(cmd), data, a.history)
	if err != nil {
		return err
	}
	switch {
	case res.HistoryReplaced:
		cmd.Printf("Imported settings and %d device(s)\n", res.HistoryEntries)
	case res.SettingsApplied:
		cmd.Println("Imported settings")
	default:
		cmd.Println("Nothing to import")
	}
	return nil
}
