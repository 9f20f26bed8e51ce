package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"intentlend/crypto"
	"intentlend/native/lending"
)

// Load loads the configuration from the given path, writing a default file
// when none exists. Environment overrides are applied after decoding.
func Load(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if cfg, err = createDefault(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		cfg = &Config{}
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()
	return cfg, nil
}

// EnsureDefaults fills optional fields left empty by the file.
func (c *Config) EnsureDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./intentlend-data"
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = "leveldb"
	}
	c.Lending.EnsureDefaults()
	if c.Prices == nil {
		c.Prices = map[string]string{}
	}
	if c.Roles == nil {
		c.Roles = map[string][]string{}
	}
	if c.Delegates == nil {
		c.Delegates = map[string][]string{}
	}
}

// Default returns a development configuration with fresh protocol accounts.
func Default() (*Config, error) {
	accounts := make([]crypto.Address, 5)
	for i := range accounts {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		accounts[i] = key.Address()
	}
	return &Config{
		DataDir:        "./intentlend-data",
		StorageBackend: "leveldb",
		Lending:        lending.DefaultConfig(),
		Domain: Domain{
			Name:              "IntentLend",
			Version:           "1",
			ChainID:           1,
			VerifyingContract: accounts[0],
		},
		Accounts: lending.Accounts{
			Pool:            accounts[1],
			CollateralVault: accounts[2],
			Platform:        accounts[3],
			Reserve:         accounts[4],
		},
		Prices:    map[string]string{},
		Roles:     map[string][]string{},
		Delegates: map[string][]string{},
	}, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := Persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Persist writes cfg to path as TOML.
func Persist(path string, cfg *Config) error {
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
