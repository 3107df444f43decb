// Package config loads the arena server configuration from the environment.
package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/match"
	"github.com/argus-labs/arena/pkg/settlement"
	"github.com/argus-labs/arena/pkg/telemetry"
)

const (
	MapSourceEmbedded = "embedded"
	MapSourceS3       = "s3"

	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Port           int      `env:"ARENA_PORT" envDefault:"4000"`
	AllowedOrigins []string `env:"ARENA_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	Lobby     LobbyConfig
	Match     MatchConfig
	Maps      MapConfig
	Escrow    EscrowConfig
	Chain     ChainConfig
	Identity  IdentityConfig
	Telemetry telemetry.Config
}

type LobbyConfig struct {
	// TTL bounds a lobby's lifetime regardless of activity.
	TTL           time.Duration `env:"LOBBY_TTL" envDefault:"1h"`
	SweepInterval time.Duration `env:"LOBBY_SWEEP_INTERVAL" envDefault:"1h"`
	// DisposeDelay is how long a started lobby lingers before removal.
	DisposeDelay time.Duration `env:"LOBBY_DISPOSE_DELAY" envDefault:"10s"`
}

type MatchConfig struct {
	RespawnDelay time.Duration `env:"MATCH_RESPAWN_DELAY" envDefault:"2s"`
	EvictDelay   time.Duration `env:"MATCH_EVICT_DELAY" envDefault:"30s"`
	WinnerPolicy string        `env:"MATCH_TIMEOUT_WINNER_POLICY" envDefault:"random"`
}

type MapConfig struct {
	Source          string `env:"MAP_SOURCE" envDefault:"embedded"`
	Bucket          string `env:"MAP_BUCKET"`
	Prefix          string `env:"MAP_PREFIX"`
	Endpoint        string `env:"MAP_S3_ENDPOINT"`
	Region          string `env:"MAP_S3_REGION"`
	AccessKeyID     string `env:"MAP_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"MAP_S3_SECRET_ACCESS_KEY"`
}

type EscrowConfig struct {
	Store         string `env:"ESCROW_STORE" envDefault:"sqlite"`
	SQLitePath    string `env:"ESCROW_SQLITE_PATH" envDefault:"arena.db"`
	RedisAddress  string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	DatabaseURL   string `env:"DATABASE_URL"`
}

type ChainConfig struct {
	ID              int64  `env:"CHAIN_ID" envDefault:"84532"`
	ContractAddress string `env:"MATCH_ESCROW_ADDRESS"`
	DomainName      string `env:"ESCROW_DOMAIN_NAME" envDefault:"Arena MatchEscrow"`
	DomainVersion   string `env:"ESCROW_DOMAIN_VERSION" envDefault:"1"`
	// RPCURL enables on-chain verification of recorded transactions.
	RPCURL string `env:"CHAIN_RPC_URL"`
}

type IdentityConfig struct {
	URL   string `env:"IDENTITY_SERVICE_URL"`
	Token string `env:"IDENTITY_SERVICE_TOKEN"`
}

// Load reads dotenv files when present, then parses and validates the environment. Variables
// already set win over dotenv values.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, eris.Wrapf(err, "failed to load %s", f)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, eris.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, eris.Wrap(err, "failed to validate config")
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (cfg *Config) Validate() error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return eris.Errorf("invalid port: %d", cfg.Port)
	}
	if len(cfg.AllowedOrigins) == 0 {
		return eris.New("at least one allowed origin is required")
	}

	for name, d := range map[string]time.Duration{
		"LOBBY_TTL":            cfg.Lobby.TTL,
		"LOBBY_SWEEP_INTERVAL": cfg.Lobby.SweepInterval,
		"LOBBY_DISPOSE_DELAY":  cfg.Lobby.DisposeDelay,
		"MATCH_RESPAWN_DELAY":  cfg.Match.RespawnDelay,
		"MATCH_EVICT_DELAY":    cfg.Match.EvictDelay,
	} {
		if d <= 0 {
			return eris.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if _, err := match.ParseWinnerPolicy(cfg.Match.WinnerPolicy); err != nil {
		return err
	}

	switch cfg.Maps.Source {
	case MapSourceEmbedded:
	case MapSourceS3:
		if cfg.Maps.Bucket == "" {
			return eris.New("MAP_BUCKET is required when MAP_SOURCE is s3")
		}
	default:
		return eris.Errorf("invalid map source: %s (must be 'embedded' or 's3')", cfg.Maps.Source)
	}

	switch cfg.Escrow.Store {
	case StoreMemory:
	case StoreSQLite:
		if cfg.Escrow.SQLitePath == "" {
			return eris.New("ESCROW_SQLITE_PATH is required when ESCROW_STORE is sqlite")
		}
	case StoreRedis:
		if cfg.Escrow.RedisAddress == "" {
			return eris.New("REDIS_ADDRESS is required when ESCROW_STORE is redis")
		}
	case StorePostgres:
		if cfg.Escrow.DatabaseURL == "" {
			return eris.New("DATABASE_URL is required when ESCROW_STORE is postgres")
		}
	default:
		return eris.Errorf("invalid escrow store: %s (must be 'memory', 'sqlite', 'redis' or 'postgres')",
			cfg.Escrow.Store)
	}

	if cfg.Chain.ID <= 0 {
		return eris.Errorf("invalid chain id: %d", cfg.Chain.ID)
	}
	// An unset contract is allowed; match creation then reports it.
	if cfg.Chain.ContractAddress != "" && !settlement.IsValidContractAddress(cfg.Chain.ContractAddress) {
		return eris.Errorf("invalid MATCH_ESCROW_ADDRESS: %s", cfg.Chain.ContractAddress)
	}
	if strings.TrimSpace(cfg.Chain.DomainName) == "" || strings.TrimSpace(cfg.Chain.DomainVersion) == "" {
		return eris.New("escrow domain name and version are required")
	}

	return cfg.Telemetry.Validate()
}

// Addr is the listen address for the HTTP server.
func (cfg *Config) Addr() string {
	return ":" + strconv.Itoa(cfg.Port)
}
