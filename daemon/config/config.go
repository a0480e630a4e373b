package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TunoMedia/TunoMedia/internal/chunker"
	"github.com/TunoMedia/TunoMedia/internal/crypto"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/payment"
	"github.com/TunoMedia/TunoMedia/internal/validation"
)

// Environment overrides, applied after the file.
const (
	EnvConfig     = "TUNO_CONFIG"
	EnvLedgerURL  = "TUNO_LEDGER_URL"
	EnvPackageID  = "TUNO_PACKAGE_ID"
	EnvKeystore   = "TUNO_KEYSTORE"
	EnvPassphrase = "TUNO_PASSPHRASE"
)

// Config holds daemon and client configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Identity      IdentityConfig      `yaml:"identity"`
	Database      DatabaseConfig      `yaml:"database"`
	Client        ClientConfig        `yaml:"client"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the listeners serving paid requests.
type ServerConfig struct {
	GRPCAddress     string `yaml:"grpc_address"`
	HTTPAddress     string `yaml:"http_address"` // gateway, websocket, events; empty disables
	QUICAddress     string `yaml:"quic_address"` // empty disables
	CertDirectory   string `yaml:"cert_directory"`
	PublicHost      string `yaml:"public_host"`
	Encoding        string `yaml:"encoding"` // hex | raw
	MaxBlockSize    int    `yaml:"max_block_size"`
	StreamQueue     int    `yaml:"stream_queue"`
	RateLimit       int    `yaml:"rate_limit_per_minute"` // 0 disables
	RateBurst       int    `yaml:"rate_burst"`
	StreamRate      int    `yaml:"stream_bytes_per_second"` // 0 is unlimited
	EventBufferSize int    `yaml:"event_buffer_size"`
}

// StorageConfig selects where payloads live and how signatures are computed.
type StorageConfig struct {
	Backend   string `yaml:"backend"` // fs | s3
	Root      string `yaml:"root"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	BlockSize int    `yaml:"block_size"`
	HashAlgo  string `yaml:"hash_algo"`
}

// LedgerConfig points at the ledger node and the deployed package.
type LedgerConfig struct {
	URL       string        `yaml:"url"`
	PackageID string        `yaml:"package_id"`
	CoinType  string        `yaml:"coin_type"`
	GasBudget uint64        `yaml:"gas_budget"`
	Timeout   time.Duration `yaml:"timeout"`
}

// IdentityConfig locates the node's signing key.
type IdentityConfig struct {
	Keystore   string `yaml:"keystore"`
	Passphrase string `yaml:"-"` // environment only
}

// DatabaseConfig locates the audit database and the content catalog.
type DatabaseConfig struct {
	AuditPath   string `yaml:"audit_path"`
	CatalogPath string `yaml:"catalog_path"`
}

// ClientConfig configures downloads from other distributors.
type ClientConfig struct {
	Proxy       string        `yaml:"proxy"` // socks5 host:port
	BlockSize   int           `yaml:"block_size"`
	Selection   string        `yaml:"selection"` // first | cheapest | random
	Insecure    bool          `yaml:"insecure"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ObservabilityConfig configures metrics, health and logging.
type ObservabilityConfig struct {
	MetricsAddress string `yaml:"metrics_address"` // empty disables
	LogLevel       string `yaml:"log_level"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "tuno")

	return &Config{
		Server: ServerConfig{
			GRPCAddress:     "0.0.0.0:50051",
			HTTPAddress:     "127.0.0.1:8080",
			CertDirectory:   filepath.Join(dataDir, "tls"),
			Encoding:        string(payment.EncodingHex),
			MaxBlockSize:    4 << 20,
			StreamQueue:     128,
			RateLimit:       120,
			RateBurst:       20,
			EventBufferSize: 100,
		},
		Storage: StorageConfig{
			Backend:   "fs",
			Root:      filepath.Join(dataDir, "media"),
			BlockSize: chunker.DefaultBlockSize,
			HashAlgo:  string(chunker.AlgoSHA256),
		},
		Ledger: LedgerConfig{
			URL:       "https://api.testnet.iota.cafe",
			CoinType:  "0x2::iota::IOTA",
			GasBudget: ledger.DefaultGasBudget,
			Timeout:   30 * time.Second,
		},
		Identity: IdentityConfig{
			Keystore: crypto.DefaultKeystorePath(),
		},
		Database: DatabaseConfig{
			AuditPath:   filepath.Join(dataDir, "requests.db"),
			CatalogPath: filepath.Join(dataDir, "catalog.db"),
		},
		Client: ClientConfig{
			BlockSize:   chunker.DefaultBlockSize,
			Selection:   "first",
			DialTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddress: "127.0.0.1:9102",
			LogLevel:       "info",
		},
	}
}

// LoadConfig reads a YAML file over the defaults and applies environment
// overrides. An empty path falls back to $TUNO_CONFIG, and then to defaults only.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = os.Getenv(EnvConfig)
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to process config file '%s': %w", configPath, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLedgerURL); v != "" {
		c.Ledger.URL = v
	}
	if v := os.Getenv(EnvPackageID); v != "" {
		c.Ledger.PackageID = v
	}
	if v := os.Getenv(EnvKeystore); v != "" {
		c.Identity.Keystore = v
	}
	c.Identity.Passphrase = os.Getenv(EnvPassphrase)
}

// Validate checks the settings needed by both the daemon and the client.
func (c *Config) Validate() error {
	var errs []error
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("ledger.url", validation.ValidateURL(c.Ledger.URL))
	if _, err := c.Package(); err != nil {
		check("ledger.package_id", err)
	}
	check("storage.backend", validation.ValidateOneOf(c.Storage.Backend, "fs", "s3"))
	if c.Storage.Backend == "s3" {
		check("storage.bucket", validation.ValidateStringNonEmpty(c.Storage.Bucket))
	} else {
		check("storage.root", validation.ValidateFilePath(c.Storage.Root, false))
	}
	check("storage.block_size", validation.ValidateRangeInt(c.Storage.BlockSize, 1, 64<<20))
	if _, err := chunker.ParseHashAlgo(c.Storage.HashAlgo); err != nil {
		check("storage.hash_algo", err)
	}
	if _, err := payment.ParseEncoding(c.Server.Encoding); err != nil {
		check("server.encoding", err)
	}
	check("client.selection", validation.ValidateOneOf(c.Client.Selection, "first", "cheapest", "random"))
	check("client.block_size", validation.ValidateRangeInt(c.Client.BlockSize, 1, c.Server.MaxBlockSize))
	check("identity.keystore", validation.ValidateFilePath(c.Identity.Keystore, false))

	return errors.Join(errs...)
}

// ValidateServer additionally checks the listener settings used by the daemon.
func (c *Config) ValidateServer() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := validation.ValidateAddr(c.Server.GRPCAddress); err != nil {
		errs = append(errs, fmt.Errorf("server.grpc_address: %w", err))
	}
	for field, addr := range map[string]string{
		"server.http_address":           c.Server.HTTPAddress,
		"server.quic_address":           c.Server.QUICAddress,
		"observability.metrics_address": c.Observability.MetricsAddress,
	} {
		if addr == "" {
			continue
		}
		if err := validation.ValidateAddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	if err := validation.ValidateRangeInt(c.Server.StreamQueue, 1, 4096); err != nil {
		errs = append(errs, fmt.Errorf("server.stream_queue: %w", err))
	}
	if err := validation.ValidateRangeInt(c.Server.MaxBlockSize, 1, 64<<20); err != nil {
		errs = append(errs, fmt.Errorf("server.max_block_size: %w", err))
	}
	return errors.Join(errs...)
}

// Package returns the parsed package id.
func (c *Config) Package() (ledger.ObjectID, error) {
	if strings.TrimSpace(c.Ledger.PackageID) == "" {
		return ledger.ObjectID{}, validation.ErrEmptyString
	}
	return ledger.ParseObjectID(c.Ledger.PackageID)
}

// ChunkOptions returns the signature options of the content store.
func (c *Config) ChunkOptions() chunker.Options {
	algo, _ := chunker.ParseHashAlgo(c.Storage.HashAlgo)
	return chunker.Options{BlockSize: c.Storage.BlockSize, Algo: algo}
}

// EnvelopeEncoding returns the configured envelope encoding.
func (c *Config) EnvelopeEncoding() payment.Encoding {
	enc, _ := payment.ParseEncoding(c.Server.Encoding)
	return enc
}
