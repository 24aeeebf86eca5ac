// Package cli implements the tripd debug CLI. It wires the assistant
// in-process against the same database the server uses, so state and
// profile inspection work without a running server.
package cli

import (
	"fmt"
	"os"

	"github.com/avezina/tripd/internal/assistant"
	"github.com/avezina/tripd/internal/config"
	"github.com/avezina/tripd/internal/embedding"
	"github.com/avezina/tripd/internal/planner"
	"github.com/avezina/tripd/internal/prefstore"
	"github.com/avezina/tripd/internal/risk"
	"github.com/avezina/tripd/internal/router"
	"github.com/avezina/tripd/internal/session"
	"github.com/avezina/tripd/internal/tools"
	"github.com/spf13/cobra"
)

var (
	dbPath   string
	userFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "tripd",
	Short: "Conversational trip planning assistant",
	Long:  "Chat with the trip planner from the terminal and inspect its session state and preference store.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $DB_PATH or ./data/tripd.db)")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "local", "User ID for preference storage")
}

// build assembles an in-process assistant plus the store handle for
// commands that talk to storage directly.
func build() (*assistant.Assistant, prefstore.Store, *config.Config, error) {
	if dbPath != "" {
		os.Setenv("DB_PATH", dbPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	var embedder embedding.Embedder
	if e := embedding.NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel); e != nil {
		embedder = e
	}

	store, err := prefstore.NewSQLite(cfg.DBPath, embedder, prefstore.Options{
		DedupSimilarity:  cfg.DedupSim,
		RetrieveMinScore: cfg.RetrieveMin,
		RetrieveDedup:    cfg.RetrieveDedup,
		AdminToken:       cfg.AdminToken,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open preference store: %w", err)
	}
	prefs := prefstore.NewResilient(store)

	health := tools.NewHealth()
	policy := tools.RetryPolicy{Retries: cfg.ToolRetries, Backoff: cfg.RetryBackoff, Timeout: cfg.ToolTimeout}
	modelPolicy := tools.RetryPolicy{Retries: cfg.ToolRetries, Backoff: cfg.RetryBackoff, Timeout: cfg.ModelTimeout}
	geocoder := tools.NewAMapGeocoder(cfg.AMapAPIKey, policy, health)
	weather := tools.NewAMapWeather(cfg.AMapAPIKey, geocoder, policy, health)
	llm := tools.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, modelPolicy, health)

	sessions := session.NewManager(cfg.SessionTTL)
	graph := planner.New(weather, geocoder, llm, prefs, risk.New(), cfg.MaxTripDays, cfg.RetrieveTopK)
	asst := assistant.New(sessions, prefs, router.New(llm), graph, health)
	return asst, prefs, cfg, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
