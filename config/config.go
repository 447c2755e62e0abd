package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"socialcoin/crypto"
)

// Backend selectors for the settlement ledger.
const (
	NetworkEthereum = "ethereum"
	NetworkFabric   = "fabric"
)

// Config captures process-wide configuration for the socialcoin service.
// Secrets (admin signing key, JWT secret, gateway password) are resolved
// through environment variable indirection so the TOML file never holds them.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DatabaseDSN   string `toml:"DatabaseDSN"`
	Network       string `toml:"Network"`
	TokenDecimals uint8  `toml:"TokenDecimals"`
	LogFile       string `toml:"LogFile"`

	AdminAddress string `toml:"AdminAddress"`
	AdminKeyEnv  string `toml:"AdminKeyEnv"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`

	Ethereum EthereumConfig `toml:"Ethereum"`
	Fabric   FabricConfig   `toml:"Fabric"`
	IPFS     IPFSConfig     `toml:"IPFS"`
}

// EthereumConfig configures the direct-contract ledger variant.
type EthereumConfig struct {
	RPCURL          string `toml:"RPCURL"`
	ContractAddress string `toml:"ContractAddress"`
}

// FabricConfig configures the permissioned-gateway ledger variant.
type FabricConfig struct {
	LoginURL         string `toml:"LoginURL"`
	TransactionURL   string `toml:"TransactionURL"`
	AdminUser        string `toml:"AdminUser"`
	AdminPasswordEnv string `toml:"AdminPasswordEnv"`
}

// IPFSConfig configures the content-addressed proof store.
type IPFSConfig struct {
	Enabled bool   `toml:"Enabled"`
	AddURL  string `toml:"AddURL"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		c.DatabaseDSN = "socialcoin.db"
	}
	if strings.TrimSpace(c.Network) == "" {
		c.Network = NetworkEthereum
	}
	if c.TokenDecimals == 0 {
		// The coin mirrors fiat-cent granularity.
		c.TokenDecimals = 2
	}
	if strings.TrimSpace(c.AdminKeyEnv) == "" {
		c.AdminKeyEnv = "SOCIALCOIN_ADMIN_KEY"
	}
	if strings.TrimSpace(c.JWTSecretEnv) == "" {
		c.JWTSecretEnv = "SOCIALCOIN_JWT_SECRET"
	}
	if strings.TrimSpace(c.Fabric.AdminPasswordEnv) == "" {
		c.Fabric.AdminPasswordEnv = "SOCIALCOIN_FABRIC_PASSWORD"
	}
}

// Validate checks selector and endpoint coherence before any component starts.
func (c *Config) Validate() error {
	switch c.Network {
	case NetworkEthereum:
		if strings.TrimSpace(c.Ethereum.RPCURL) == "" {
			return fmt.Errorf("config: Ethereum.RPCURL is required for network %q", c.Network)
		}
		if strings.TrimSpace(c.Ethereum.ContractAddress) == "" {
			return fmt.Errorf("config: Ethereum.ContractAddress is required for network %q", c.Network)
		}
	case NetworkFabric:
		if strings.TrimSpace(c.Fabric.LoginURL) == "" {
			return fmt.Errorf("config: Fabric.LoginURL is required for network %q", c.Network)
		}
		if strings.TrimSpace(c.Fabric.TransactionURL) == "" {
			return fmt.Errorf("config: Fabric.TransactionURL is required for network %q", c.Network)
		}
	default:
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
	// Privileged settlement calls sign as this account; an empty or malformed
	// address would otherwise surface much later as a nonce lookup against the
	// zero address.
	if strings.TrimSpace(c.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	if _, err := crypto.DecodeAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("config: AdminAddress: %w", err)
	}
	return nil
}

// AdminKey resolves the administrator signing key from the environment.
func (c *Config) AdminKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(c.AdminKeyEnv))
	if key == "" {
		return "", fmt.Errorf("config: %s is not set", c.AdminKeyEnv)
	}
	return key, nil
}

// JWTSecret resolves the gateway token signing secret from the environment.
func (c *Config) JWTSecret() (string, error) {
	secret := strings.TrimSpace(os.Getenv(c.JWTSecretEnv))
	if secret == "" {
		return "", fmt.Errorf("config: %s is not set", c.JWTSecretEnv)
	}
	return secret, nil
}

// FabricPassword resolves the gateway login password from the environment.
func (c *Config) FabricPassword() string {
	return strings.TrimSpace(os.Getenv(c.Fabric.AdminPasswordEnv))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DatabaseDSN:   "socialcoin.db",
		Network:       NetworkEthereum,
		TokenDecimals: 2,
		AdminKeyEnv:   "SOCIALCOIN_ADMIN_KEY",
		JWTSecretEnv:  "SOCIALCOIN_JWT_SECRET",
		Ethereum: EthereumConfig{
			RPCURL:          "http://127.0.0.1:8545",
			ContractAddress: "",
		},
		Fabric: FabricConfig{
			AdminPasswordEnv: "SOCIALCOIN_FABRIC_PASSWORD",
		},
		IPFS: IPFSConfig{
			Enabled: false,
			AddURL:  "http://127.0.0.1:5001/api/v0/add",
		},
	}

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
