package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is everything the service reads from the environment.
type Config struct {
	Port           string   `env:"PORT" envDefault:"5200"`
	DatabaseURL    string   `env:"DATABASE_URL,required,notEmpty"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty      bool     `env:"LOG_PRETTY" envDefault:"false"`

	// Ledger
	RPCURL                   string `env:"RPC_URL" envDefault:"https://sepolia.base.org"`
	TournamentManagerAddress string `env:"TOURNAMENT_MANAGER_ADDRESS,required"`
	ChainID                  int64  `env:"CHAIN_ID" envDefault:"84532"` // base sepolia
	// AdminPrivateKey may be empty: reads keep working, relay writes answer
	// with a configuration error.
	AdminPrivateKey string `env:"ADMIN_PRIVATE_KEY"`

	// Relay
	ServiceToken string        `env:"SERVICE_TOKEN,required,notEmpty"`
	RelayURL     string        `env:"RELAY_URL" envDefault:"http://localhost:5200"`
	// longer than LedgerWriteTimeout so callers hear the relay's own answer
	RelayTimeout time.Duration `env:"RELAY_TIMEOUT" envDefault:"150s"`
	// how long the relay waits for a score transaction to be mined
	LedgerWriteTimeout time.Duration `env:"LEDGER_WRITE_TIMEOUT" envDefault:"2m"`

	// Spin reveal cadence
	Reel2Delay time.Duration `env:"REEL2_DELAY" envDefault:"600ms"`
	Reel3Delay time.Duration `env:"REEL3_DELAY" envDefault:"800ms"`
	ScoreDelay time.Duration `env:"SCORE_DELAY" envDefault:"1s"`

	// Reconciler
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	PendingStaleAfter time.Duration `env:"PENDING_STALE_AFTER" envDefault:"5m"`

	// Audit archive (Cloudflare R2). Archive is disabled when the bucket is empty.
	CloudflareAccountID string `env:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID       string `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret   string `env:"R2_ACCESS_KEY_SECRET"`
	R2Bucket            string `env:"R2_BUCKET_NAME"`
}

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️  No .env file found, reading environment variables directly")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if cfg.RelayTimeout <= cfg.LedgerWriteTimeout {
		log.Warn().Dur("relay_timeout", cfg.RelayTimeout).Dur("ledger_write_timeout", cfg.LedgerWriteTimeout).
			Msg("⚠️  RELAY_TIMEOUT is not longer than LEDGER_WRITE_TIMEOUT, slow writes will surface as network failures")
	}
	return &cfg, nil
}

// ArchiveEnabled reports whether R2 credentials are configured.
func (c *Config) ArchiveEnabled() bool {
	return c.R2Bucket != "" && c.CloudflareAccountID != ""
}
