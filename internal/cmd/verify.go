package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the connection and credentials",
	Long: `Connect to the configured server, log in when credentials are
configured, and disconnect without sending anything.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		t, err := newTransport(ctx, cfg)
		if err != nil {
			return err
		}

		opts := t.Options()
		if err := t.Verify(ctx); err != nil {
			return fmt.Errorf("verify %s:%d failed: %w", opts.Host, opts.Port, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server %s:%d is ready to take messages\n", opts.Host, opts.Port)
		return nil
	},
}
