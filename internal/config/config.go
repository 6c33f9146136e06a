// Package config loads and stores the client configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"
	"gopkg.in/yaml.v2"

	"github.com/ObjatieGroba/kks/internal/ejudge"
)

// Auth carries the persisted credentials. Password is optional: when
// absent it is prompted for interactively on each authentication.
type Auth struct {
	Login    string `yaml:"login"`
	Password string `yaml:"password,omitempty"`
	Contest  int    `yaml:"contest"`
	Judge    bool   `yaml:"judge"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

type Config struct {
	Auth     Auth   `yaml:"auth"`
	DBPath   string `yaml:"db_path,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
}

// AuthData converts the stored credentials to the form the judge
// client consumes.
func (c Config) AuthData() ejudge.AuthData {
	return ejudge.AuthData{
		Login:     c.Auth.Login,
		Password:  c.Auth.Password,
		ContestID: c.Auth.Contest,
		Judge:     c.Auth.Judge,
		BaseURL:   c.Auth.BaseURL,
	}
}

func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "kks", "config.yml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "kks.yml"
	}
	return filepath.Join(home, ".config", "kks", "config.yml")
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kks.db"
	}
	return filepath.Join(home, ".local", "state", "kks", "state.db")
}

// Load reads the configuration at path. A missing file yields the
// zero configuration with defaults filled in, not an error.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return withDefaults(cfg), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return withDefaults(cfg), nil
}

// Save writes the configuration, creating parent directories as
// needed. The file may hold a password, so it is written 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func withDefaults(cfg Config) Config {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warning"
	}
	return cfg
}

// PromptPassword reads a password from the terminal without echo.
func PromptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
