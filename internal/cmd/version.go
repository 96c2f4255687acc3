package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shineum/smtp-transport/internal/smtp"
	"github.com/shineum/smtp-transport/internal/transport"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Version needs no configuration.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "smtp-transport %s (go-smtp %s)\n", transport.Version, smtp.ClientVersion())
	},
}
