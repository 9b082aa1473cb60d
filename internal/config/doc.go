// Package config loads runtime configuration for the message cache.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string      base URL of the key directory service
//	-f string      base URL of the file service
//	-cache string  directory for decrypted attachment files
//	-dsn string    sqlite DSN of the message database
//	-t int         inline threshold (bytes)
//	-p int         notification preview length (runes)
//	-m int         retention max age (days)
//	-r int         retention sweep interval (hours)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "6h" or integer nanoseconds:
//
//	{
//	  "directory_base_url": "https://directory.example.com",
//	  "file_service_base_url": "https://files.example.com",
//	  "cache_dir": "/var/cache/msgcache/attachments",
//	  "database_dsn": "/var/cache/msgcache/messages.db",
//	  "inline_threshold": 262144,
//	  "preview_length": 120,
//	  "retention_max_age": "168h",
//	  "retention_interval": "6h"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
