/**
 * @description
 * Configuration management for the ledger worker. Uses Viper to read settings
 * from environment variables, with an optional .env file for local
 * development. Every knob has a default so a bare `go run ./cmd` starts a
 * usable demo partition.
 */

package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for one worker process.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DataDir              string `mapstructure:"DATA_DIR"`
	AccountsFilename     string `mapstructure:"ACCOUNTS_FILENAME"`
	TransactionsFilename string `mapstructure:"TRANSACTIONS_FILENAME"`
	CreditRefsFilename   string `mapstructure:"CREDIT_REFS_FILENAME"`
	WorkerID             string `mapstructure:"WORKER_ID"`
	SeedDemoData         bool   `mapstructure:"SEED_DEMO_DATA"`
}

// AccountsPath is the full path of the ledger file.
func (c Config) AccountsPath() string {
	return filepath.Join(c.DataDir, c.AccountsFilename)
}

// TransactionsPath is the full path of the transaction log.
func (c Config) TransactionsPath() string {
	return filepath.Join(c.DataDir, c.TransactionsFilename)
}

// CreditRefsPath is the full path of the applied-credit reference file.
func (c Config) CreditRefsPath() string {
	return filepath.Join(c.DataDir, c.CreditRefsFilename)
}

// LoadConfig reads configuration from environment variables, falling back to
// an optional .env file in the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8082")
	viper.SetDefault("DATA_DIR", "./data")
	viper.SetDefault("ACCOUNTS_FILENAME", "accounts.txt")
	viper.SetDefault("TRANSACTIONS_FILENAME", "transactions.txt")
	viper.SetDefault("CREDIT_REFS_FILENAME", "credit_refs.txt")
	viper.SetDefault("WORKER_ID", "worker-1")
	viper.SetDefault("SEED_DEMO_DATA", true)

	// PORT is the alias most deploy targets inject.
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATA_DIR")
	_ = viper.BindEnv("ACCOUNTS_FILENAME")
	_ = viper.BindEnv("TRANSACTIONS_FILENAME")
	_ = viper.BindEnv("CREDIT_REFS_FILENAME")
	_ = viper.BindEnv("WORKER_ID")
	_ = viper.BindEnv("SEED_DEMO_DATA")

	// The .env file is optional; a missing one is not an error.
	if readErr := viper.ReadInConfig(); readErr != nil {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			err = readErr
			return
		}
	}

	err = viper.Unmarshal(&config)
	return
}
