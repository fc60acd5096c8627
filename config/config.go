package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/native/fees"
	"vaulttoken/native/vault"
	"vaulttoken/storage"
)

// Config is the vaultd node configuration. Values are read from a TOML file
// and may be overridden by VAULT_* environment variables.
type Config struct {
	NodeName       string `toml:"NodeName" env:"VAULT_NODE_NAME"`
	Environment    string `toml:"Environment" env:"VAULT_ENV"`
	DataDir        string `toml:"DataDir" env:"VAULT_DATA_DIR"`
	StorageBackend string `toml:"StorageBackend" env:"VAULT_STORAGE_BACKEND"`
	GenesisFile    string `toml:"GenesisFile" env:"VAULT_GENESIS_FILE"`

	Gateway   GatewayConfig   `toml:"gateway"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Token     TokenConfig     `toml:"token"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Indexer   IndexerConfig   `toml:"indexer"`
}

// GatewayConfig controls the HTTP API.
type GatewayConfig struct {
	ListenAddress   string        `toml:"ListenAddress" env:"VAULT_LISTEN_ADDRESS"`
	ReadTimeout     time.Duration `toml:"ReadTimeout" env:"VAULT_READ_TIMEOUT"`
	WriteTimeout    time.Duration `toml:"WriteTimeout" env:"VAULT_WRITE_TIMEOUT"`
	AwaitTimeout    time.Duration `toml:"AwaitTimeout" env:"VAULT_AWAIT_TIMEOUT"`
	AuthEnabled     bool          `toml:"AuthEnabled" env:"VAULT_AUTH_ENABLED"`
	HMACSecret      string        `toml:"HMACSecret" env:"VAULT_AUTH_HMAC_SECRET"`
	Issuer          string        `toml:"Issuer" env:"VAULT_AUTH_ISSUER"`
	Audience        []string      `toml:"Audience" env:"VAULT_AUTH_AUDIENCE" envSeparator:","`
	RateLimitPerSec float64       `toml:"RateLimitPerSecond" env:"VAULT_RATE_LIMIT_RPS"`
	RateLimitBurst  int           `toml:"RateLimitBurst" env:"VAULT_RATE_LIMIT_BURST"`
	AllowedOrigins  []string      `toml:"AllowedOrigins" env:"VAULT_ALLOWED_ORIGINS" envSeparator:","`
}

// RuntimeConfig carries gas limits in TGas and the outcome cache size.
type RuntimeConfig struct {
	BaseComputeTGas uint64 `toml:"BaseComputeTGas" env:"VAULT_BASE_COMPUTE_TGAS"`
	MaxGasTGas      uint64 `toml:"MaxGasTGas" env:"VAULT_MAX_GAS_TGAS"`
	DefaultGasTGas  uint64 `toml:"DefaultGasTGas" env:"VAULT_DEFAULT_GAS_TGAS"`
	// OutcomeRetention is the number of final receipt outcomes kept for
	// queries.
	OutcomeRetention int `toml:"OutcomeRetention" env:"VAULT_OUTCOME_RETENTION"`
}

// TokenConfig parameterises the token contract.
type TokenConfig struct {
	Account              string             `toml:"Account" env:"VAULT_TOKEN_ACCOUNT"`
	StoragePrice         fees.PerBytePolicy `toml:"StoragePricePerByte" env:"VAULT_STORAGE_PRICE_PER_BYTE"`
	OpenRegistration     bool               `toml:"OpenRegistration" env:"VAULT_OPEN_REGISTRATION"`
	GasForCallbackTGas   uint64             `toml:"GasForCallbackTGas" env:"VAULT_GAS_FOR_CALLBACK_TGAS"`
	GasForPromiseTGas    uint64             `toml:"GasForPromiseTGas" env:"VAULT_GAS_FOR_PROMISE_TGAS"`
	GasForDependencyTGas uint64             `toml:"GasForDataDependencyTGas" env:"VAULT_GAS_FOR_DATA_DEPENDENCY_TGAS"`
}

// LoggingConfig selects the log level and an optional rotating file sink.
type LoggingConfig struct {
	Level      string `toml:"Level" env:"VAULT_LOG_LEVEL"`
	File       string `toml:"File" env:"VAULT_LOG_FILE"`
	MaxSizeMB  int    `toml:"MaxSizeMB" env:"VAULT_LOG_MAX_SIZE_MB"`
	MaxBackups int    `toml:"MaxBackups" env:"VAULT_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `toml:"MaxAgeDays" env:"VAULT_LOG_MAX_AGE_DAYS"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" env:"VAULT_OTEL_ENDPOINT"`
	Insecure bool   `toml:"Insecure" env:"VAULT_OTEL_INSECURE"`
	Headers  string `toml:"Headers" env:"VAULT_OTEL_HEADERS"`
	Traces   bool   `toml:"Traces" env:"VAULT_OTEL_TRACES"`
	Metrics  bool   `toml:"Metrics" env:"VAULT_OTEL_METRICS"`
}

// IndexerConfig selects the event store. An empty driver disables indexing.
type IndexerConfig struct {
	Driver string `toml:"Driver" env:"VAULT_INDEXER_DRIVER"`
	DSN    string `toml:"DSN" env:"VAULT_INDEXER_DSN"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists, and applies environment overrides on top.
func Load(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		cfg = &Config{}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		NodeName:       "vaultd",
		Environment:    "local",
		DataDir:        "./vault-data",
		StorageBackend: storage.BackendLevelDB,
		GenesisFile:    "",
		Gateway: GatewayConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			AwaitTimeout:    10 * time.Second,
			RateLimitPerSec: 20,
			RateLimitBurst:  40,
			Audience:        []string{},
			AllowedOrigins:  []string{},
		},
		Runtime: RuntimeConfig{
			BaseComputeTGas: 5,
			MaxGasTGas:      300,
			DefaultGasTGas:  300,

			OutcomeRetention: 10_000,
		},
		Token: TokenConfig{
			Account:              "token",
			StoragePrice:         fees.DefaultPolicy(),
			GasForCallbackTGas:   5,
			GasForPromiseTGas:    5,
			GasForDependencyTGas: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
	}
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if strings.TrimSpace(c.NodeName) == "" {
		c.NodeName = defaults.NodeName
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaults.DataDir
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = defaults.StorageBackend
	}
	if strings.TrimSpace(c.Gateway.ListenAddress) == "" {
		c.Gateway.ListenAddress = defaults.Gateway.ListenAddress
	}
	if c.Gateway.ReadTimeout <= 0 {
		c.Gateway.ReadTimeout = defaults.Gateway.ReadTimeout
	}
	if c.Gateway.WriteTimeout <= 0 {
		c.Gateway.WriteTimeout = defaults.Gateway.WriteTimeout
	}
	if c.Gateway.AwaitTimeout <= 0 {
		c.Gateway.AwaitTimeout = defaults.Gateway.AwaitTimeout
	}
	if c.Runtime.BaseComputeTGas == 0 {
		c.Runtime.BaseComputeTGas = defaults.Runtime.BaseComputeTGas
	}
	if c.Runtime.MaxGasTGas == 0 {
		c.Runtime.MaxGasTGas = defaults.Runtime.MaxGasTGas
	}
	if c.Runtime.DefaultGasTGas == 0 {
		c.Runtime.DefaultGasTGas = c.Runtime.MaxGasTGas
	}
	if c.Runtime.OutcomeRetention <= 0 {
		c.Runtime.OutcomeRetention = defaults.Runtime.OutcomeRetention
	}
	if strings.TrimSpace(c.Token.Account) == "" {
		c.Token.Account = defaults.Token.Account
	}
	if c.Token.StoragePrice.Price == nil {
		c.Token.StoragePrice = defaults.Token.StoragePrice
	}
	if c.Token.GasForCallbackTGas == 0 {
		c.Token.GasForCallbackTGas = defaults.Token.GasForCallbackTGas
	}
	if c.Token.GasForPromiseTGas == 0 {
		c.Token.GasForPromiseTGas = defaults.Token.GasForPromiseTGas
	}
	if c.Token.GasForDependencyTGas == 0 {
		c.Token.GasForDependencyTGas = defaults.Token.GasForDependencyTGas
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	c.Indexer.Driver = strings.ToLower(strings.TrimSpace(c.Indexer.Driver))
}

// Validate reports configuration errors that would prevent the node from starting.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	if err := types.AccountID(c.Token.Account).Validate(); err != nil {
		return fmt.Errorf("config: token account: %w", err)
	}
	if c.Runtime.DefaultGasTGas > c.Runtime.MaxGasTGas {
		return fmt.Errorf("config: default gas %d TGas exceeds max %d TGas", c.Runtime.DefaultGasTGas, c.Runtime.MaxGasTGas)
	}
	if c.Runtime.BaseComputeTGas >= c.Runtime.MaxGasTGas {
		return fmt.Errorf("config: base compute must be below max gas")
	}
	if c.Gateway.AuthEnabled && strings.TrimSpace(c.Gateway.HMACSecret) == "" {
		return fmt.Errorf("config: auth enabled but HMACSecret is empty")
	}
	if c.Gateway.RateLimitPerSec < 0 || c.Gateway.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate limit values must not be negative")
	}
	switch c.Indexer.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown indexer driver %q", c.Indexer.Driver)
	}
	if c.Indexer.Driver == "postgres" && strings.TrimSpace(c.Indexer.DSN) == "" {
		return fmt.Errorf("config: postgres indexer requires a DSN")
	}
	return nil
}

// RuntimeConfig converts the gas settings into the runtime's schedule.
func (c *Config) RuntimeConfig() runtime.Config {
	return runtime.Config{
		BaseCompute: types.Gas(c.Runtime.BaseComputeTGas) * types.TGas,
		MaxGas:      types.Gas(c.Runtime.MaxGasTGas) * types.TGas,
		DefaultGas:  types.Gas(c.Runtime.DefaultGasTGas) * types.TGas,

		OutcomeRetention: c.Runtime.OutcomeRetention,
	}
}

// ContractConfig converts the token settings into the contract configuration.
func (c *Config) ContractConfig() vault.Config {
	return vault.Config{
		GasBaseCompute:       types.Gas(c.Runtime.BaseComputeTGas) * types.TGas,
		GasForCallback:       types.Gas(c.Token.GasForCallbackTGas) * types.TGas,
		GasForPromise:        types.Gas(c.Token.GasForPromiseTGas) * types.TGas,
		GasForDataDependency: types.Gas(c.Token.GasForDependencyTGas) * types.TGas,
		StoragePolicy:        c.Token.StoragePrice,
		RequireRegistration:  !c.Token.OpenRegistration,
	}
}

// StoragePath returns the on-disk location of the state database.
func (c *Config) StoragePath() string {
	switch c.StorageBackend {
	case storage.BackendBolt:
		return filepath.Join(c.DataDir, "state.db")
	case storage.BackendMemory:
		return ""
	default:
		return filepath.Join(c.DataDir, "state")
	}
}

// IndexerDSN returns the configured DSN, defaulting sqlite to a file under DataDir.
func (c *Config) IndexerDSN() string {
	if dsn := strings.TrimSpace(c.Indexer.DSN); dsn != "" {
		return dsn
	}
	if c.Indexer.Driver == "sqlite" {
		return filepath.Join(c.DataDir, "events.db")
	}
	return ""
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
