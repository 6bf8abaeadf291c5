package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"tradesee/crypto"
)

const (
	DatabaseLevelDB = "leveldb"
	DatabaseMemory  = "memory"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Database      string `toml:"Database"`
	Environment   string `toml:"Environment"`
	// DepositMint is the only asset contracts accept. Use a bech32 or 0x
	// address.
	DepositMint string `toml:"DepositMint"`

	Policy    Policy              `toml:"policy"`
	Genesis   []GenesisAllocation `toml:"genesis"`
	Logging   Logging             `toml:"logging"`
	Telemetry Telemetry           `toml:"telemetry"`
	Auth      Auth                `toml:"auth"`
	RateLimit RateLimit           `toml:"rate_limit"`
	CORS      CORS                `toml:"cors"`
	Indexer   Indexer             `toml:"indexer"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written by Load for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress: ":8645",
		DataDir:       "./tradesee-data",
		Database:      DatabaseLevelDB,
		Environment:   "dev",
		DepositMint:   crypto.FormatAccount(DefaultDepositMint()),
		Policy: Policy{
			DepositExpiry:     "reject",
			RestrictDepositor: true,
			DefaultOracles:    []string{},
		},
		Genesis: []GenesisAllocation{},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			ServiceName: "escrowd",
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRatio: 1,
		},
		Auth: Auth{
			ScopeClaim:       "scope",
			AllowAnonymous:   true,
			ClockSkewSeconds: 30,
		},
		RateLimit: RateLimit{
			RequestsPerMinute: 600,
			Burst:             60,
		},
		CORS: CORS{
			AllowedOrigins: []string{},
		},
		Indexer: Indexer{
			Enabled: true,
			Path:    "events.db",
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) normalize() {
	c.Database = strings.ToLower(strings.TrimSpace(c.Database))
	if c.Database == "" {
		c.Database = DatabaseLevelDB
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if c.Policy.DefaultOracles == nil {
		c.Policy.DefaultOracles = []string{}
	}
	if c.Genesis == nil {
		c.Genesis = []GenesisAllocation{}
	}
	if c.CORS.AllowedOrigins == nil {
		c.CORS.AllowedOrigins = []string{}
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = "escrowd"
	}
	if strings.TrimSpace(c.Auth.ScopeClaim) == "" {
		c.Auth.ScopeClaim = "scope"
	}
}

// StoragePath is the LevelDB directory inside DataDir.
func (c *Config) StoragePath() string {
	return filepath.Join(c.DataDir, "state")
}

// IndexerPath resolves the event database path. Relative paths live under
// DataDir; ":memory:" is passed through.
func (c *Config) IndexerPath() string {
	p := strings.TrimSpace(c.Indexer.Path)
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
