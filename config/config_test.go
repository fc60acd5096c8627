package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"vaulttoken/core/types"
	"vaulttoken/storage"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	if cfg.StorageBackend != storage.BackendLevelDB {
		t.Fatalf("unexpected backend %q", cfg.StorageBackend)
	}
	if cfg.Token.Account != "token" {
		t.Fatalf("unexpected token account %q", cfg.Token.Account)
	}

	// The persisted file must decode back to the same settings.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Gateway.ReadTimeout != 15*time.Second {
		t.Fatalf("unexpected read timeout %s", reloaded.Gateway.ReadTimeout)
	}
	if reloaded.Token.StoragePrice.Price.Cmp(cfg.Token.StoragePrice.Price) != 0 {
		t.Fatalf("storage price changed across reload: %s", reloaded.Token.StoragePrice.Price.Dec())
	}
}

func TestLoadFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
DataDir = "/var/lib/vault"
StorageBackend = "BOLT"

[gateway]
ListenAddress = ":9090"
AwaitTimeout = "3s"

[runtime]
MaxGasTGas = 200

[token]
Account = "ft.vault"
StoragePricePerByte = "1000"
OpenRegistration = true

[indexer]
Driver = "sqlite"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageBackend != storage.BackendBolt {
		t.Fatalf("backend not normalised: %q", cfg.StorageBackend)
	}
	if cfg.StoragePath() != filepath.Join("/var/lib/vault", "state.db") {
		t.Fatalf("unexpected storage path %q", cfg.StoragePath())
	}
	if cfg.Gateway.AwaitTimeout != 3*time.Second {
		t.Fatalf("unexpected await timeout %s", cfg.Gateway.AwaitTimeout)
	}
	if cfg.Gateway.ReadTimeout != 15*time.Second {
		t.Fatalf("read timeout default not applied: %s", cfg.Gateway.ReadTimeout)
	}
	if cfg.Runtime.DefaultGasTGas != 200 {
		t.Fatalf("default gas should follow max gas, got %d", cfg.Runtime.DefaultGasTGas)
	}
	if cfg.Token.StoragePrice.Price.Cmp(uint256.NewInt(1000)) != 0 {
		t.Fatalf("unexpected storage price %s", cfg.Token.StoragePrice.Price.Dec())
	}
	if cfg.IndexerDSN() != filepath.Join("/var/lib/vault", "events.db") {
		t.Fatalf("unexpected indexer dsn %q", cfg.IndexerDSN())
	}

	contract := cfg.ContractConfig()
	if contract.RequireRegistration {
		t.Fatalf("open registration should disable the registration requirement")
	}
	if contract.GasForDataDependency != 10*types.TGas {
		t.Fatalf("unexpected data dependency gas %d", contract.GasForDataDependency)
	}
	if rt := cfg.RuntimeConfig(); rt.MaxGas != 200*types.TGas || rt.BaseCompute != 5*types.TGas || rt.OutcomeRetention != 10_000 {
		t.Fatalf("unexpected runtime config %+v", rt)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := Load(path); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	t.Setenv("VAULT_LISTEN_ADDRESS", ":7070")
	t.Setenv("VAULT_STORAGE_BACKEND", "memory")
	t.Setenv("VAULT_STORAGE_PRICE_PER_BYTE", "42")
	t.Setenv("VAULT_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("VAULT_AUTH_ENABLED", "true")
	t.Setenv("VAULT_AUTH_HMAC_SECRET", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.ListenAddress != ":7070" {
		t.Fatalf("listen address not overridden: %q", cfg.Gateway.ListenAddress)
	}
	if cfg.StorageBackend != storage.BackendMemory || cfg.StoragePath() != "" {
		t.Fatalf("backend not overridden: %q", cfg.StorageBackend)
	}
	if cfg.Token.StoragePrice.Price.Uint64() != 42 {
		t.Fatalf("storage price not overridden: %s", cfg.Token.StoragePrice.Price.Dec())
	}
	if strings.Join(cfg.Gateway.AllowedOrigins, " ") != "https://a.example https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.Gateway.AllowedOrigins)
	}
	if !cfg.Gateway.AuthEnabled {
		t.Fatalf("auth not enabled from env")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":      func(c *Config) { c.StorageBackend = "rocks" },
		"token":        func(c *Config) { c.Token.Account = "Bad Account" },
		"default gas":  func(c *Config) { c.Runtime.DefaultGasTGas = 400 },
		"base compute": func(c *Config) { c.Runtime.BaseComputeTGas = 300 },
		"auth secret":  func(c *Config) { c.Gateway.AuthEnabled = true },
		"indexer":      func(c *Config) { c.Indexer.Driver = "mongo" },
		"postgres dsn": func(c *Config) { c.Indexer.Driver = "postgres" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
