package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the message cache subsystem.
//
// Fields:
//   - DirectoryBaseURL: base URL of the key directory service.
//   - FileServiceBaseURL: base URL of the encrypted file service.
//   - CacheDir: directory for decrypted attachment files.
//   - DatabaseDSN: sqlite DSN of the local message database.
//   - InlineThreshold: attachments below this size (bytes) are kept in
//     memory as data URIs instead of temp files.
//   - PreviewLength: maximum rune count of notification previews.
//   - RetentionMaxAge: age beyond which decrypted files are swept.
//   - RetentionInterval: how often the retention sweep runs.
type Config struct {
	DirectoryBaseURL   string
	FileServiceBaseURL string
	CacheDir           string
	DatabaseDSN        string
	InlineThreshold    int
	PreviewLength      int
	RetentionMaxAge    time.Duration
	RetentionInterval  time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	base := defaultBaseDir()
	c.DirectoryBaseURL = "http://127.0.0.1:8080"
	c.FileServiceBaseURL = "http://127.0.0.1:8081"
	c.CacheDir = filepath.Join(base, "attachments")
	c.DatabaseDSN = filepath.Join(base, "messages.db")
	c.InlineThreshold = 256 * 1024
	c.PreviewLength = 120
	c.RetentionMaxAge = 7 * 24 * time.Hour
	c.RetentionInterval = 6 * time.Hour
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

func defaultBaseDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "msgcache")
	}
	return ".msgcache"
}
