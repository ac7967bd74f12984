package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/rcdrive/internal/history"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently connected vehicles",
	Long: `List the vehicles connected to most recently, newest first.

Positions shown here are accepted by --from-history on drive and send.`,
	Args: cobra.NoArgs,
	RunE: runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently connected vehicles",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every recorded vehicle",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true
	return displayHistory(cmd.OutOrStdout(), a.history.Entries())
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true

	a.history.Clear()
	if err := a.history.Save(commandContext(cmd)); err != nil {
		return err
	}
	cmd.Println("Device history cleared")
	return nil
}

func displayHistory(out io.Writer, entries []history.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No devices in history")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tTRANSPORT\tADDRESS\tLAST CONNECTED")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, e.Name, e.Kind, e.Address, e.LastConnected.Local().Format(time.DateTime))
	}
	return w.Flush()
}
