package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"charityledger/crypto"

	"github.com/BurntSushi/toml"
)

// Backends accepted by the Backend field.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

type Config struct {
	RPCAddress        string         `toml:"RPCAddress"`
	DataDir           string         `toml:"DataDir"`
	Backend           string         `toml:"Backend"`
	ChainID           uint64         `toml:"ChainID"`
	Environment       string         `toml:"Environment"`
	Owner             string         `toml:"Owner"`
	OwnerKeystorePath string         `toml:"OwnerKeystorePath"`
	Vault             string         `toml:"Vault"`
	LogFile           string         `toml:"LogFile"`
	LogLevel          string         `toml:"LogLevel"`
	RPC               RPC            `toml:"rpc"`
	Telemetry         Telemetry      `toml:"telemetry"`
	Payout            Payout         `toml:"payout"`
	Genesis           []GenesisAlloc `toml:"genesis"`
}

// DefaultVaultName seeds the custody address when Vault is left empty.
const DefaultVaultName = "charity/vault"

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	passphrase func() (string, error)
}

// WithKeystorePassphraseSource supplies the passphrase protecting the owner
// keystore. Without it keystores are written and read with an empty passphrase.
func WithKeystorePassphraseSource(source func() (string, error)) Option {
	return func(o *loadOptions) { o.passphrase = source }
}

func (o *loadOptions) resolvePassphrase() (string, error) {
	if o == nil || o.passphrase == nil {
		return "", nil
	}
	return o.passphrase()
}

// Load loads the configuration from the given path. A missing file is created
// with defaults and a fresh owner keystore next to it.
func Load(path string, opts ...Option) (*Config, error) {
	options := &loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.Owner) == "" {
		if err := ensureKeystore(path, cfg, options); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./charity-data"
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendLevelDB
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if strings.TrimSpace(cfg.Vault) == "" {
		cfg.Vault = crypto.AddressFromArray(crypto.ModuleAddress(DefaultVaultName)).String()
	}
	if cfg.RPC.RateLimitPerSecond == 0 {
		cfg.RPC.RateLimitPerSecond = 20
	}
	if cfg.RPC.RateLimitBurst == 0 {
		cfg.RPC.RateLimitBurst = 40
	}
	if cfg.RPC.MaxBodyBytes == 0 {
		cfg.RPC.MaxBodyBytes = 1 << 20
	}
	if cfg.RPC.ReadTimeoutSeconds == 0 {
		cfg.RPC.ReadTimeoutSeconds = 15
	}
	if cfg.RPC.WriteTimeoutSeconds == 0 {
		cfg.RPC.WriteTimeoutSeconds = 15
	}
	if cfg.Payout.TimeoutSeconds == 0 {
		cfg.Payout.TimeoutSeconds = 10
	}
}

// ensureKeystore derives Owner from the owner keystore, generating one when
// it does not exist yet, and persists the result.
func ensureKeystore(configPath string, cfg *Config, options *loadOptions) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	passphrase, err := options.resolvePassphrase()
	if err != nil {
		return fmt.Errorf("owner keystore passphrase: %w", err)
	}

	var key *crypto.PrivateKey
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		generated, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, generated, passphrase); err != nil {
			return err
		}
		key = generated
	} else if err != nil {
		return err
	} else {
		loaded, err := crypto.LoadFromKeystore(keystorePath, passphrase)
		if err != nil {
			return fmt.Errorf("owner keystore %s: %w", keystorePath, err)
		}
		key = loaded
	}

	cfg.OwnerKeystorePath = keystorePath
	cfg.Owner = key.PubKey().Address().String()
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, options *loadOptions) (*Config, error) {
	passphrase, err := options.resolvePassphrase()
	if err != nil {
		return nil, fmt.Errorf("owner keystore passphrase: %w", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:        ":8080",
		DataDir:           "./charity-data",
		Backend:           BackendLevelDB,
		ChainID:           1,
		Owner:             key.PubKey().Address().String(),
		OwnerKeystorePath: keystorePath,
		Genesis:           []GenesisAlloc{},
	}
	applyDefaults(cfg)

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

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}

// StoragePath returns the location handed to the storage backend. bbolt keeps
// a single file inside DataDir.
func (c *Config) StoragePath() string {
	if c.Backend == BackendBolt {
		return filepath.Join(c.DataDir, "ledger.db")
	}
	return c.DataDir
}
