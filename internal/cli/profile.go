package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show stored preferences for a user",
		Run:   runProfile,
	}
	RootCmd.AddCommand(cmd)
}

func runProfile(cmd *cobra.Command, args []string) {
	_, prefs, _, err := build()
	if err != nil {
		exitErr("start assistant", err)
	}
	defer prefs.Close()

	recs, err := prefs.Profile(cmd.Context(), userFlag)
	if err != nil {
		exitErr("read profile", err)
	}
	b, _ := json.MarshalIndent(recs, "", "  ")
	fmt.Println(string(b))
}
