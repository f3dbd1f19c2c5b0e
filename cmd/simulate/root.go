package simulate

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dCell/cmd/util"
	"github.com/ValentinKolb/dCell/rpc/common"
	simulator "github.com/ValentinKolb/dCell/rpc/testing"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	simulateCmdConfig = common.SimulatorConfig{}
	SimulateCmd       = &cobra.Command{
		Use:     "simulate",
		Short:   "Run an in-memory archive cluster",
		Long:    `Run an in-memory archive cluster on local ports. Every cell listens on its own port (base-port, base-port+1, ...) and speaks the cell wire protocol, so the archive commands can be tried without a real cluster. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCELL_<flag> (e.g. DCELL_CELLS=4)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "address"
	SimulateCmd.PersistentFlags().String(key, "127.0.0.1", cmdUtil.WrapString("The address the cells listen on"))

	key = "base-port"
	SimulateCmd.PersistentFlags().Int(key, 8080, cmdUtil.WrapString("Port of the first cell, cell i listens on base-port+i-1. The first cell is the entry cell of the archive commands"))

	key = "cells"
	SimulateCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("Number of cells of the cluster"))

	key = "cell-capacity"
	SimulateCmd.PersistentFlags().String(key, "1GB", cmdUtil.WrapString("Capacity announced for every cell. Stores beyond it are refused with 507 (0 disables the limit)"))

	key = "page-size"
	SimulateCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Maximum number of query results per page, longer result lists continue with a cookie"))

	key = "legacy"
	SimulateCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Answer metadata requests in the legacy encoding without a version element"))

	key = "chunk-acks"
	SimulateCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Acknowledge upload chunks when the client asks for it"))

	key = "log-level"
	SimulateCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error). At debug every request is logged"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	config, err := cmdUtil.GetSimulatorConfig()
	if err != nil {
		return err
	}
	simulateCmdConfig = config
	return common.InitLoggers(simulateCmdConfig.LogLevel)
}

// run serves the cluster until interrupted
func run(cmd *cobra.Command, _ []string) error {
	fmt.Println(simulateCmdConfig.String())

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cluster := simulator.NewCluster(simulateCmdConfig, nil)
	return cluster.ListenAndServe(ctx)
}

// initConfig reads in ENV variables and .env files if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dcell")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
