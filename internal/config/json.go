package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dovelchat/msgcache/internal/flagx"
	"github.com/dovelchat/msgcache/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "6h" or as integer nanoseconds. After parsing, non-zero
// values are copied into the runtime Config.
type JsonConfig struct {
	DirectoryBaseURL   string         `json:"directory_base_url"`
	FileServiceBaseURL string         `json:"file_service_base_url"`
	CacheDir           string         `json:"cache_dir"`
	DatabaseDSN        string         `json:"database_dsn"`
	InlineThreshold    int            `json:"inline_threshold"`
	PreviewLength      int            `json:"preview_length"`
	RetentionMaxAge    timex.Duration `json:"retention_max_age"`
	RetentionInterval  timex.Duration `json:"retention_interval"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Only fields present in the JSON (non-zero after unmarshal) override the
// config; omitted fields keep their earlier values. Panics on read or
// unmarshal errors (caller should recover if desired).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DirectoryBaseURL != "" {
		cfg.DirectoryBaseURL = jc.DirectoryBaseURL
	}
	if jc.FileServiceBaseURL != "" {
		cfg.FileServiceBaseURL = jc.FileServiceBaseURL
	}
	if jc.CacheDir != "" {
		cfg.CacheDir = jc.CacheDir
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.InlineThreshold > 0 {
		cfg.InlineThreshold = jc.InlineThreshold
	}
	if jc.PreviewLength > 0 {
		cfg.PreviewLength = jc.PreviewLength
	}
	if jc.RetentionMaxAge.Duration > 0 {
		cfg.RetentionMaxAge = time.Duration(jc.RetentionMaxAge.Duration)
	}
	if jc.RetentionInterval.Duration > 0 {
		cfg.RetentionInterval = time.Duration(jc.RetentionInterval.Duration)
	}
}
