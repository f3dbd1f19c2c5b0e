package archive

import (
	"context"
	"os"
	"os/signal"

	"github.com/ValentinKolb/dCell/cmd/util"
	"github.com/ValentinKolb/dCell/rpc/client"
	"github.com/spf13/cobra"
)

var (
	session *client.Session

	// ArchiveCommands represents the archive command group
	ArchiveCommands = &cobra.Command{
		Use:                "archive",
		Short:              "Perform archive operations",
		Long:               `Perform archive operations against a cluster. The session connects to the entry cell given by --host and --port and learns the other cells from its answer. The format of the environment variables is DCELL_<flag> (e.g. DCELL_CHUNK_WINDOW=8)`,
		PersistentPreRunE:  setupSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add connection and tuning flags to the archive command
	util.SetupClientFlags(ArchiveCommands)

	// Add subcommands
	ArchiveCommands.AddCommand(storeCmd)
	ArchiveCommands.AddCommand(retrieveCmd)
	ArchiveCommands.AddCommand(metaCmd)
	ArchiveCommands.AddCommand(queryCmd)
	ArchiveCommands.AddCommand(deleteCmd)
	ArchiveCommands.AddCommand(indexedCmd)
	ArchiveCommands.AddCommand(schemaCmd)
	ArchiveCommands.AddCommand(cellsCmd)
	ArchiveCommands.AddCommand(benchCmd)
}

// setupSession binds the flags and opens the session
func setupSession(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	session, err = util.NewSession()
	return err
}

func closeSession(_ *cobra.Command, _ []string) error {
	if session == nil {
		return nil
	}
	return session.Close()
}

// commandContext is cancelled on interrupt
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}
