package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/avezina/tripd/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive trip planning session",
		Long:  "Start a REPL chat. /state, /profile and /clear inspect and reset the session; /quit exits.",
		Run:   runChat,
	}
	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	asst, prefs, _, err := build()
	if err != nil {
		exitErr("start assistant", err)
	}
	defer prefs.Close()

	sessionID := uuid.NewString()
	fmt.Printf("tripd chat · session %s · user %s\n", sessionID[:8], userFlag)
	fmt.Println("告诉我想去的城市和天数。/state /profile /clear /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		out, err := asst.Chat(cmd.Context(), sessionID, userFlag, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if len(out.Trace) > 1 {
			fmt.Printf("[%s]\n", joinNodes(out.Trace))
		}
		fmt.Println(out.Reply)
		if len(out.Degraded) > 0 {
			fmt.Printf("(degraded: %s)\n", strings.Join(out.Degraded, ", "))
		}
	}
}

func joinNodes(trace []domain.GraphNode) string {
	parts := make([]string, len(trace))
	for i, n := range trace {
		parts[i] = string(n)
	}
	return strings.Join(parts, " → ")
}
