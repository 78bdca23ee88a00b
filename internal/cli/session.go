package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errNoContext = errors.New("cli context not initialized")

// NewSessionCmd creates the session command group.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the stored session identity",
		Long: `Show or forget the session id this profile presents to the backend.
The id is generated on first use and reused on every later run.`,
	}

	cmd.AddCommand(newSessionIDCmd())
	cmd.AddCommand(newSessionForgetCmd())

	return cmd
}

func newSessionIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the session id, creating one if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNoContext
			}
			fmt.Fprintln(cmd.OutOrStdout(), cliCtx.Identity(false).GetOrCreateSessionID())
			return nil
		},
	}
}

func newSessionForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Drop the stored session id",
		Long:  `The next run starts a brand new conversation with a freshly generated id.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNoContext
			}
			if _, err := cliCtx.GetStorage(); err != nil {
				return fmt.Errorf("open profile storage: %w", err)
			}
			if err := cliCtx.Identity(false).Forget(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session id forgotten")
			return nil
		},
	}
}
