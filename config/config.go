package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL   = "http://localhost:4000"
	DefaultRPCURL      = "http://localhost:8545"
	DefaultHTTPTimeout = 60 * time.Second
	DefaultReceipts    = "./data"
	DefaultIPFSGateway = "https://ipfs.io"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "terminal"
)

type Config struct {
	ServerURL           string        `yaml:"server_url"`
	RPCURL              string        `yaml:"rpc_url"`
	VotingPluginAddress string        `yaml:"voting_plugin_address"`
	VotingTokenAddress  string        `yaml:"voting_token_address"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	Prover              ProverConfig  `yaml:"prover"`
	Wallet              WalletConfig  `yaml:"wallet"`
	ReceiptsPath        string        `yaml:"receipts_path"`
	IPFSGateway         string        `yaml:"ipfs_gateway"`
	Log                 LogConfig     `yaml:"log"`
}

type ProverConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// WalletConfig points at the voter's key. PrivateKey wins over
// PrivateKeyFile when both are set.
type WalletConfig struct {
	PrivateKey     string `yaml:"private_key,omitempty"`
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		ServerURL:    DefaultServerURL,
		RPCURL:       DefaultRPCURL,
		HTTPTimeout:  DefaultHTTPTimeout,
		ReceiptsPath: DefaultReceipts,
		IPFSGateway:  DefaultIPFSGateway,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func LoadConfigFromFile(f string) (*Config, error) {
	b, err := os.ReadFile(filepath.Clean(f))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config(%s)", f)
	}

	return LoadConfig(b)
}

// LoadConfig decodes b over the defaults. Keys missing from b keep their
// default values.
func LoadConfig(b []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = DefaultHTTPTimeout
	}

	return config, nil
}

func (c *Config) IsValid() error {
	if err := checkURL("server_url", c.ServerURL); err != nil {
		return err
	}

	if c.RPCURL != "" {
		if err := checkURL("rpc_url", c.RPCURL); err != nil {
			return err
		}
	}

	for name, addr := range map[string]string{
		"voting_plugin_address": c.VotingPluginAddress,
		"voting_token_address":  c.VotingTokenAddress,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return errors.Errorf("invalid %s, %q", name, addr)
		}
	}

	if c.HTTPTimeout < 0 {
		return errors.Errorf("invalid http_timeout, %s", c.HTTPTimeout)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return errors.Wrapf(err, "invalid log level, %q", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "terminal":
	default:
		return errors.Errorf("invalid log format, %q", c.Log.Format)
	}

	return nil
}

func (c *Config) PluginAddress() common.Address {
	return common.HexToAddress(c.VotingPluginAddress)
}

func (c *Config) TokenAddress() common.Address {
	return common.HexToAddress(c.VotingTokenAddress)
}

// MarshalZerologObject logs the config without the wallet key.
func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("server_url", c.ServerURL).
		Str("rpc_url", c.RPCURL).
		Str("voting_plugin_address", c.VotingPluginAddress).
		Str("voting_token_address", c.VotingTokenAddress).
		Dur("http_timeout", c.HTTPTimeout).
		Str("prover", c.Prover.Command).
		Bool("wallet_key_set", c.Wallet.PrivateKey != "" || c.Wallet.PrivateKeyFile != "").
		Str("receipts_path", c.ReceiptsPath).
		Str("ipfs_gateway", c.IPFSGateway)
}

func checkURL(name, s string) error {
	if s == "" {
		return errors.Errorf("empty %s", name)
	}

	u, err := url.Parse(s)
	if err != nil {
		return errors.Wrapf(err, "invalid %s", name)
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.Errorf("invalid %s, %q", name, s)
	}

	return nil
}
