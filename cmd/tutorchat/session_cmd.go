package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"TutorChat/internal/config"
	"TutorChat/internal/session"
)

func newSessionCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or forget the stored session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored session identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := session.OpenSQLite(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sess, ok, err := store.Get(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "No stored session.")
				return nil
			}
			fmt.Fprintf(out, "user_id:    %s\n", sess.UserID)
			fmt.Fprintf(out, "session_id: %s\n", sess.SessionID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the stored session without contacting the tutor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := session.OpenSQLite(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stored session cleared.")
			return nil
		},
	})

	return cmd
}
