// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "fundwatch.config"

const (
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultContractAddressFile = "contract-address.json"
	DefaultEnvFile             = ".env"

	envPrefix = "fundwatch"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// tempConfig allows settings to be nested under a config key
type tempConfig struct {
	Config *yaml.Node `yaml:"config,omitempty"`
}

type Config struct {
	RpcUrl               string        `yaml:"rpcUrl"               envconfig:"RPC_URL"         validate:"required,uri"`
	ContractAddress      string        `yaml:"contractAddress"      split_words:"true"          validate:"omitempty,eth_addr"`
	ContractAddressFile  string        `yaml:"contractAddressFile"  split_words:"true"`
	RetryInterval        time.Duration `yaml:"retryInterval"        split_words:"true"          validate:"gte=0"`
	SessionRetryInterval time.Duration `yaml:"sessionRetryInterval" split_words:"true"          validate:"gte=0"`
	PollInterval         time.Duration `yaml:"pollInterval"         split_words:"true"          validate:"gte=0"`
	HistoryFromBlock     uint64        `yaml:"historyFromBlock"     split_words:"true"`
	ReadRateLimit        float64       `yaml:"readRateLimit"        split_words:"true"          validate:"gte=0"`
	ReadBurst            int           `yaml:"readBurst"            split_words:"true"          validate:"gte=0"`
	ApiListenAddress     string        `yaml:"apiListenAddress"     split_words:"true"`
	BindAddr             string        `yaml:"bindAddr"             split_words:"true"`
	MetricsPort          uint          `yaml:"metricsPort"          split_words:"true"`
	IpfsGateway          string        `yaml:"ipfsGateway"          envconfig:"IPFS_GATEWAY"    validate:"omitempty,url"`
	MetadataCacheSize    int           `yaml:"metadataCacheSize"    split_words:"true"          validate:"gte=0"`
	GcsCredentialsFile   string        `yaml:"gcsCredentialsFile"   envconfig:"GCS_CREDENTIALS"`
	KeystoreDir          string        `yaml:"keystoreDir"          split_words:"true"`
	KeystorePassphrase   string        `yaml:"keystorePassphrase"   split_words:"true"`
	Account              string        `yaml:"account"                                          validate:"omitempty,eth_addr"`
	PrivateKey           string        `yaml:"privateKey"           split_words:"true"          validate:"excluded_with=KeystoreDir"`
	KeyFile              string        `yaml:"keyFile"              split_words:"true"          validate:"excluded_with=PrivateKey"`
	LightKdf             bool          `yaml:"lightKdf"             envconfig:"LIGHT_KDF"`
	IdentityPollInterval time.Duration `yaml:"identityPollInterval" split_words:"true"          validate:"gte=0"`
	Tracing              bool          `yaml:"tracing"`
	TracingStdout        bool          `yaml:"tracingStdout"        split_words:"true"`
	ShutdownTimeout      time.Duration `yaml:"shutdownTimeout"      split_words:"true"          validate:"gte=0"`
	Debug                bool          `yaml:"debug"`
}

// contractAddressFile is the deployment output shared with the contract
// tooling
type contractAddressFile struct {
	Crowdfund string `json:"Crowdfund"`
}

func defaultConfig() Config {
	return Config{
		RpcUrl:               "http://127.0.0.1:8545",
		ContractAddressFile:  DefaultContractAddressFile,
		RetryInterval:        10 * time.Second,
		SessionRetryInterval: 30 * time.Second,
		PollInterval:         4 * time.Second,
		ReadRateLimit:        0,
		ApiListenAddress:     "127.0.0.1:8080",
		BindAddr:             "0.0.0.0",
		MetricsPort:          12799,
		IpfsGateway:          "https://gateway.pinata.cloud/ipfs/",
		MetadataCacheSize:    512,
		IdentityPollInterval: 2 * time.Second,
		ShutdownTimeout:      DefaultShutdownTimeout,
	}
}

var globalConfig = func() *Config {
	cfg := defaultConfig()
	return &cfg
}()

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig layers the defaults, a YAML file, a .env file and the
// environment, in that order, then validates the result
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaultConfig()
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.fundwatch/fundwatch.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".fundwatch", "fundwatch.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/fundwatch/fundwatch.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/fundwatch/fundwatch.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		var tempCfg tempConfig
		if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		if tempCfg.Config != nil {
			// Overlay only the keys present in the section
			if err := tempCfg.Config.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// A .env file only fills variables that are not already set
	if err := godotenv.Load(DefaultEnvFile); err != nil &&
		!errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading %s: %w", DefaultEnvFile, err)
	}

	// Process environment variables
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if cfg.ContractAddress == "" && cfg.ContractAddressFile != "" {
		address, err := readContractAddress(cfg.ContractAddressFile)
		if err != nil {
			return nil, err
		}
		cfg.ContractAddress = address
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = &cfg
	return globalConfig, nil
}

// Validate checks field formats and that a contract address is known
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf(
				"invalid config: %s failed %q validation",
				verrs[0].Field(),
				verrs[0].Tag(),
			)
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ContractAddress == "" {
		return fmt.Errorf(
			"invalid config: no contract address configured and %q not found",
			c.ContractAddressFile,
		)
	}
	return nil
}

// Address returns the parsed contract address
func (c *Config) Address() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// AccountAddress returns the configured keystore account, or the zero
// address to select the first key
func (c *Config) AccountAddress() common.Address {
	if c.Account == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Account)
}

func readContractAddress(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("error reading contract address file: %w", err)
	}
	var addrFile contractAddressFile
	if err := json.Unmarshal(buf, &addrFile); err != nil {
		return "", fmt.Errorf("error parsing contract address file: %w", err)
	}
	if !common.IsHexAddress(addrFile.Crowdfund) {
		return "", fmt.Errorf(
			"contract address file %s: invalid Crowdfund address %q",
			path,
			addrFile.Crowdfund,
		)
	}
	return addrFile.Crowdfund, nil
}

func GetConfig() *Config {
	return globalConfig
}
