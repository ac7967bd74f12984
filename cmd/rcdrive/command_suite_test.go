package main

import (
	"bytes"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/srg/rcdrive/internal/testutils"
)

// CommandTestSuite runs rcdrive commands against a mocked Bluetooth vehicle
// and a per-test file store.
type CommandTestSuite struct {
	testutils.MockVehicleSuite
	StoreDir string
}

func (s *CommandTestSuite) SetupTest() {
	s.MockVehicleSuite.SetupTest()
	resetFlags(rootCmd)
	s.StoreDir = s.T().TempDir()
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	resetFlags(rootCmd)
	return buf.String(), err
}

// ExecuteWithStore runs the command against the test's file store.
func (s *CommandTestSuite) ExecuteWithStore(args ...string) (string, error) {
	return s.ExecuteCommand(append(args, "--store", "file", "--store-dir", s.StoreDir)...)
}

// resetFlags puts every flag back to its default. Cobra keeps parsed values
// between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
