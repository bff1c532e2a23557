// Package config loads and saves the TOML configuration at
// ~/.parley/config.toml: the session identity and the endpoints of the
// document store, presence store, upload service and generation backend.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full contents of config.toml.
type Config struct {
	Session   Session   `toml:"session"`
	Identity  Identity  `toml:"identity"`
	Store     Store     `toml:"store"`
	Presence  Presence  `toml:"presence"`
	Upload    Upload    `toml:"upload"`
	Assistant Assistant `toml:"assistant"`
}

// Session names the default session used when --session is not given.
type Session struct {
	Default string `toml:"default"`
}

// Identity is the authenticated account this client acts as. The user
// record itself lives in the document store; uid ties the two together.
type Identity struct {
	UID      string `toml:"uid"`
	Name     string `toml:"name"`
	PhotoURL string `toml:"photo_url"`
}

// Store selects the document-store driver.
type Store struct {
	Driver   string `toml:"driver"`   // memory | sqlite | mongo
	DSN      string `toml:"dsn"`      // mongo connection URI; unused otherwise
	Database string `toml:"database"` // mongo database name
}

// Presence selects the low-latency presence/typing driver.
type Presence struct {
	Driver string `toml:"driver"` // memory | redis
	URL    string `toml:"url"`    // redis URL
}

// Upload selects the file upload driver.
type Upload struct {
	Driver  string `toml:"driver"` // none | s3
	Bucket  string `toml:"bucket"`
	Region  string `toml:"region"`
	BaseURL string `toml:"base_url"` // public URL prefix for uploaded objects
}

// Assistant configures the generation backend.
type Assistant struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	TextModel   string `toml:"text_model"`
	VisionModel string `toml:"vision_model"`
}

// Default returns the configuration used when no config.toml exists.
func Default() *Config {
	return &Config{
		Session:  Session{Default: "main"},
		Store:    Store{Driver: "sqlite", Database: "parley"},
		Presence: Presence{Driver: "memory"},
		Upload:   Upload{Driver: "none"},
		Assistant: Assistant{
			BaseURL:     "https://generativelanguage.googleapis.com",
			TextModel:   "gemini-1.5-flash",
			VisionModel: "gemini-1.5-flash",
		},
	}
}

// Load reads config from the given path, applying defaults for any
// section the file omits. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
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
