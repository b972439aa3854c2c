package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultAcceptedDomain is the email domain contacts must belong to
// when the config does not set one.
const DefaultAcceptedDomain = "@gmail.com"

// Config represents the global ~/.charla/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	AcceptedDomain string   `toml:"accepted_domain"`
	Firebase       Firebase `toml:"firebase"`
	Account        Account  `toml:"account"`
}

// Firebase holds the remote database connection parameters.
type Firebase struct {
	ProjectID       string `toml:"project_id"`
	DatabaseURL     string `toml:"database_url"`
	CredentialsFile string `toml:"credentials_file"`
	WebAPIKey       string `toml:"web_api_key"`
}

// Account holds the sign-in credentials.
type Account struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AcceptedDomain == "" {
		cfg.AcceptedDomain = DefaultAcceptedDomain
	}
	return &cfg, nil
}

// Validate checks that every remote connection parameter is set. The
// client cannot run in a degraded mode against a half-configured
// backend, so any missing field is fatal.
func (c *Config) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("config: missing required field %q", field)
	}
	switch {
	case c.Firebase.ProjectID == "":
		return missing("firebase.project_id")
	case c.Firebase.DatabaseURL == "":
		return missing("firebase.database_url")
	case c.Firebase.CredentialsFile == "":
		return missing("firebase.credentials_file")
	case c.Firebase.WebAPIKey == "":
		return missing("firebase.web_api_key")
	case c.Account.Email == "":
		return missing("account.email")
	case c.Account.Password == "":
		return missing("account.password")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
