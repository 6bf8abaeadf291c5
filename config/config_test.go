package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tradesee/crypto"
	"tradesee/native/escrow"
)

var testOwner = crypto.FormatAccount([20]byte{0x42, 0x24})

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Database != DatabaseLevelDB {
		t.Fatalf("unexpected database %q", cfg.Database)
	}
	mint, err := cfg.Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if mint != DefaultDepositMint() {
		t.Fatalf("unexpected default mint %x", mint)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ListenAddress != cfg.ListenAddress || reloaded.DepositMint != cfg.DepositMint {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
	policy, err := reloaded.EnginePolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if policy.DepositExpiry != escrow.DepositExpiryReject || !policy.RestrictDepositor {
		t.Fatalf("unexpected default policy %+v", policy)
	}
}

func TestLoadParsesSections(t *testing.T) {
	oracle := crypto.FormatAccount([20]byte{0x07})
	path := writeConfig(t, `ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/tradesee"
Database = "MEMORY"
DepositMint = "0x5555555555555555555555555555555555555555"

[policy]
DepositExpiry = "allow"
RestrictDepositor = false
DefaultOracles = ["`+oracle+`"]

[[genesis]]
Owner = "`+testOwner+`"
Amount = 1000

[logging]
Level = "debug"

[auth]
Enabled = true
HMACSecret = "secret"
Issuer = "tradesee"

[rate_limit]
RequestsPerMinute = 120
Burst = 10

[indexer]
Enabled = true
Path = "idx/events.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database != DatabaseMemory {
		t.Fatalf("database not normalized: %q", cfg.Database)
	}
	policy, err := cfg.EnginePolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if policy.DepositExpiry != escrow.DepositExpiryAllow || policy.RestrictDepositor {
		t.Fatalf("unexpected policy %+v", policy)
	}
	if len(policy.DefaultOracles) != 1 || policy.DefaultOracles[0] != [20]byte{0x07} {
		t.Fatalf("unexpected oracles %x", policy.DefaultOracles)
	}
	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	mint, _ := cfg.Mint()
	if len(allocs) != 1 || allocs[0].Amount != 1000 || allocs[0].Mint != mint {
		t.Fatalf("unexpected allocations %+v", allocs)
	}
	if got := cfg.IndexerPath(); got != filepath.Join("/var/lib/tradesee", "idx/events.db") {
		t.Fatalf("unexpected indexer path %q", got)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	// Unset keys keep their defaults.
	if cfg.Auth.ScopeClaim != "scope" || !cfg.Auth.AllowAnonymous {
		t.Fatalf("auth defaults lost: %+v", cfg.Auth)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "Bogus = 1\n",
		"bad backend":     "Database = \"postgres\"\n",
		"bad mint":        "DepositMint = \"nope\"\n",
		"bad policy":      "[policy]\nDepositExpiry = \"sometimes\"\n",
		"bad oracle":      "[policy]\nDefaultOracles = [\"zz\"]\n",
		"zero genesis":    "[[genesis]]\nOwner = \"" + testOwner + "\"\nAmount = 0\n",
		"auth secret":     "[auth]\nEnabled = true\n",
		"logging level":   "[logging]\nLevel = \"loud\"\n",
		"negative limits": "[rate_limit]\nBurst = -1\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestAuthSecretPrefersEnv(t *testing.T) {
	t.Setenv("TRADESEE_TEST_SECRET", "from-env")
	cfg := Default()
	cfg.Auth.HMACSecret = "from-file"
	cfg.Auth.SecretEnv = "TRADESEE_TEST_SECRET"
	if got := cfg.AuthSecret(); got != "from-env" {
		t.Fatalf("unexpected secret %q", got)
	}
	cfg.Auth.SecretEnv = "TRADESEE_TEST_UNSET"
	if got := cfg.AuthSecret(); got != "from-file" {
		t.Fatalf("unexpected fallback secret %q", got)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Genesis = []GenesisAllocation{{Owner: testOwner, Amount: 5}}
	if err := persist(path, cfg); err != nil {
		t.Fatalf("persist: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "[[genesis]]") {
		t.Fatalf("genesis table missing:\n%s", raw)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Genesis) != 1 || loaded.Genesis[0].Owner != testOwner {
		t.Fatalf("unexpected genesis %+v", loaded.Genesis)
	}
}
