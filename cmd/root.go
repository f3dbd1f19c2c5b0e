package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dCell/cmd/archive"
	"github.com/ValentinKolb/dCell/cmd/simulate"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcell",
		Short: "multicell content archive client",
		Long: fmt.Sprintf(`dCell (v%s)

A client for content archives that spread objects over independently
addressable cells. Objects are stored, retrieved and queried over HTTP,
the client learns the cluster layout from the first cell it talks to.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dCell",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dCell v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(archive.ArchiveCommands)
	RootCmd.AddCommand(simulate.SimulateCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
