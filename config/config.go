package config

import (
	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Port int `toml:"port"`
}

type IMAPConfig struct {
	Server   string `toml:"server"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Folder   string `toml:"folder"`
}

type CacheConfig struct {
	Folder       string `toml:"folder"`        // directory holding the cache database/snapshot
	MaxSummaries int    `toml:"max_summaries"` // retention cap for thread summaries
}

type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

type Config struct {
	Server ServerConfig `toml:"server"`
	IMAP   IMAPConfig   `toml:"imap"`
	Cache  CacheConfig  `toml:"cache"`
	Log    LogConfig    `toml:"log"`
}

// LoadConfig reads the TOML config at path. Defaults are preset so a missing
// or partial file still yields a usable configuration; the error tells the
// caller whether the file was actually read.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	// Set default values
	config.Server.Port = 3000
	config.IMAP.Port = 993
	config.IMAP.Folder = "INBOX"
	config.Cache.Folder = "./cache"
	config.Cache.MaxSummaries = 300
	config.Log.Level = "info"

	if _, err := toml.DecodeFile(path, config); err != nil {
		return config, err
	}

	return config, nil
}

// MailEnabled reports whether enough IMAP settings are present to connect.
// Without them the application serves cached data only.
func (c *Config) MailEnabled() bool {
	return c.IMAP.Server != "" && c.IMAP.Username != "" && c.IMAP.Password != ""
}
