package config

import (
	"flag"
	"os"
	"time"

	"github.com/dovelchat/msgcache/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string      base URL of the key directory service
//	-f string      base URL of the file service
//	-cache string  directory for decrypted attachment files
//	-dsn string    sqlite DSN of the message database
//	-t int         inline threshold in bytes
//	-p int         notification preview length in runes
//	-m int         retention max age in days
//	-r int         retention sweep interval in hours
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-f", "-cache", "-dsn", "-t", "-p", "-m", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DirectoryBaseURL, "d", cfg.DirectoryBaseURL, "base URL of the key directory service")
	fs.StringVar(&cfg.FileServiceBaseURL, "f", cfg.FileServiceBaseURL, "base URL of the file service")
	fs.StringVar(&cfg.CacheDir, "cache", cfg.CacheDir, "directory for decrypted attachment files")
	fs.StringVar(&cfg.DatabaseDSN, "dsn", cfg.DatabaseDSN, "sqlite DSN of the message database")
	fs.IntVar(&cfg.InlineThreshold, "t", cfg.InlineThreshold, "inline threshold (bytes)")
	fs.IntVar(&cfg.PreviewLength, "p", cfg.PreviewLength, "notification preview length (runes)")
	maxAgeDays := fs.Int("m", int(cfg.RetentionMaxAge.Hours())/24, "retention max age (days)")
	intervalHours := fs.Int("r", int(cfg.RetentionInterval.Hours()), "retention sweep interval (hours)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RetentionMaxAge = time.Duration(*maxAgeDays) * 24 * time.Hour
	cfg.RetentionInterval = time.Duration(*intervalHours) * time.Hour
}
