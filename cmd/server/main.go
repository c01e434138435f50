package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/org/agentvault/internal/api"
	"github.com/org/agentvault/internal/crypto"
	"github.com/org/agentvault/internal/scenario"
	"github.com/org/agentvault/internal/storage"
	"github.com/org/agentvault/internal/vault"
	"github.com/org/agentvault/internal/workflow"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`

	Vault struct {
		ActiveKey    string   `yaml:"active_key"`    // base64, 32 bytes
		PreviousKeys []string `yaml:"previous_keys"` // base64, ordered
	} `yaml:"vault"`

	Policy struct {
		ChargeCeilingCents int64   `yaml:"charge_ceiling_cents"`
		RejectProbability  float64 `yaml:"reject_probability"`
		MaxDateHorizonDays int     `yaml:"max_date_horizon_days"`
		Seed               uint64  `yaml:"rng_seed"`
	} `yaml:"policy"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("AGENTVAULT_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8080",
		MigrationsDir: "migrations",
		LogLevel:      "info",
	}
	cfg.Policy.ChargeCeilingCents = 20000
	cfg.Policy.RejectProbability = 0.30
	cfg.Policy.MaxDateHorizonDays = 365

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("AGENTVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("AGENTVAULT_ACTIVE_KEY"); v != "" {
		cfg.Vault.ActiveKey = v
	}
	if v := os.Getenv("AGENTVAULT_PREVIOUS_KEYS"); v != "" {
		cfg.Vault.PreviousKeys = strings.Split(v, ",")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	provider, err := buildProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build encryption provider")
	}

	var store storage.Backend
	if cfg.DBUrl == "" {
		log.Warn().Msg("no db_url configured - using in-memory storage (dev mode, data is lost on restart)")
		store = storage.NewMemoryBackend()
	} else {
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
		store = pg
	}
	defer store.Close()

	vaultSvc := vault.New(store, provider, log.Logger)
	wfLog := workflow.New(store)
	engine := scenario.New(store, vaultSvc, wfLog, scenario.Config{
		ChargeCeilingCents: cfg.Policy.ChargeCeilingCents,
		RejectProbability:  cfg.Policy.RejectProbability,
		MaxDateHorizon:     time.Duration(cfg.Policy.MaxDateHorizonDays) * 24 * time.Hour,
		Seed:               cfg.Policy.Seed,
	}, log.Logger)

	srv := api.NewServer(store, vaultSvc, engine, wfLog, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// buildProvider decodes the configured root keys. Without a configured
// active key a fresh ephemeral key is generated: stored entries become
// undecryptable after a restart, which is acceptable only for demos.
func buildProvider(cfg config) (*crypto.Provider, error) {
	var active []byte
	if cfg.Vault.ActiveKey == "" {
		key, err := crypto.GenerateRootKey()
		if err != nil {
			return nil, err
		}
		log.Warn().Msg("no active key configured - generated ephemeral key; vault entries will not survive a restart")
		active = key
	} else {
		key, err := base64.StdEncoding.DecodeString(cfg.Vault.ActiveKey)
		if err != nil {
			return nil, fmt.Errorf("decoding active key: %w", err)
		}
		active = key
	}

	previous := make([][]byte, 0, len(cfg.Vault.PreviousKeys))
	for i, enc := range cfg.Vault.PreviousKeys {
		key, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decoding previous key %d: %w", i, err)
		}
		previous = append(previous, key)
	}
	return crypto.NewProvider(active, previous...)
}
