package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Irreversibly delete stored preferences",
		Long:  "Delete preferences for the given user, or everything with --scope all. Requires the admin token.",
		Run:   runPurge,
	}
	cmd.Flags().String("scope", "", "Purge scope: a user ID or \"all\" (default: --user)")
	cmd.Flags().String("token", "", "Admin token")
	cmd.MarkFlagRequired("token")
	RootCmd.AddCommand(cmd)
}

func runPurge(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	token, _ := cmd.Flags().GetString("token")
	if scope == "" {
		scope = userFlag
	}

	_, prefs, _, err := build()
	if err != nil {
		exitErr("start assistant", err)
	}
	defer prefs.Close()

	if err := prefs.Purge(cmd.Context(), scope, token); err != nil {
		exitErr("purge", err)
	}
	fmt.Printf("purged scope %q\n", scope)
}
