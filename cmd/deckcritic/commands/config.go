package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/deckcritic/api/internal/apiclient"
	"github.com/deckcritic/api/internal/client"
	"github.com/deckcritic/api/internal/config"
	"github.com/deckcritic/api/internal/pipeline"
)

// cliConfig holds everything the submitting side needs: where the API lives,
// the bearer credential, the bucket credentials for direct page uploads, and
// where resume state is kept.
type cliConfig struct {
	APIBaseURL      string
	Token           string
	StateDir        string
	MaxPages        int
	SignedURLExpiry time.Duration
	R2              config.R2Config
}

func loadCLIConfig() (*cliConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("DECKCRITIC")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("max_pages", 50)
	v.SetDefault("signed_url_expiry_minutes", 60)

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("state_dir", filepath.Join(home, ".deckcritic", "uploads"))

	cfg := &cliConfig{
		APIBaseURL:      v.GetString("api_url"),
		Token:           v.GetString("token"),
		StateDir:        v.GetString("state_dir"),
		MaxPages:        v.GetInt("max_pages"),
		SignedURLExpiry: time.Duration(v.GetInt("signed_url_expiry_minutes")) * time.Minute,
		R2: config.R2Config{
			AccountID:       v.GetString("r2_account_id"),
			AccessKeyID:     v.GetString("r2_access_key_id"),
			SecretAccessKey: v.GetString("r2_secret_access_key"),
			BucketName:      v.GetString("r2_bucket_name"),
			PublicURL:       v.GetString("r2_public_url"),
		},
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("no API token configured (set DECKCRITIC_TOKEN)")
	}
	return cfg, nil
}

// buildPipeline wires the full submission pipeline from the CLI config.
func buildPipeline(cfg *cliConfig) (*pipeline.Orchestrator, *pipeline.Reconciler, *pipeline.StateStore, *apiclient.Client, error) {
	tokens := apiclient.NewTokenSource(cfg.Token, nil)
	api := apiclient.NewClient(cfg.APIBaseURL, tokens)

	store, err := pipeline.NewStateStore(cfg.StateDir)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	storage, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("storage not configured: %w", err)
	}

	extractor := pipeline.NewExtractor(cfg.MaxPages)
	uploader := pipeline.NewUploader(storage, store, cfg.SignedURLExpiry)
	orchestrator := pipeline.NewOrchestrator(api, extractor, uploader, store)
	reconciler := pipeline.NewReconciler(api, orchestrator, store)

	return orchestrator, reconciler, store, api, nil
}
