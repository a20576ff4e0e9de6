// Package config loads the environment-derived runtime settings.
// Defaults are layered with an optional TOML base file, loaded via
// github.com/BurntSushi/toml, before environment variables are applied
// as the final, highest-precedence override.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds every setting the core reads. Nothing in this struct is
// mutated after Load returns; callers pass it by value or by pointer to
// read-only consumers.
type Config struct {
	EnableMultiTenancy    bool   `toml:"enable_multi_tenancy"`
	UpdateCreateSupported bool   `toml:"update_create_supported"`
	LockDurationMS        int64  `toml:"lock_duration_ms"`
	MaxExportPerUser      int    `toml:"max_concurrent_export_per_user"`
	MaxSystemExport       int    `toml:"max_system_concurrent_export"`
	ExportURLTTL          Duration `toml:"export_url_ttl"`
	ChangeFeedPollInterval Duration `toml:"change_feed_poll_interval"`

	ResourceTableName  string `toml:"resource_table_name"`
	ExportTableName    string `toml:"export_table_name"`
	ResourceBucketName string `toml:"resource_bucket_name"`
	BlobKeySeparator   string `toml:"blob_key_separator"`

	SearchIndexEndpoint string `toml:"search_index_endpoint"`
	AWSRegion           string `toml:"aws_region"`
}

// Duration wraps time.Duration so it can be decoded from a TOML string
// such as "24h" instead of requiring a raw integer of nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in defaults, before any TOML file or
// environment override is applied.
func Default() Config {
	return Config{
		EnableMultiTenancy:    false,
		UpdateCreateSupported: false,
		LockDurationMS:        35000,
		MaxExportPerUser:      1,
		MaxSystemExport:       2,
		ExportURLTTL:          Duration{24 * time.Hour},
		ChangeFeedPollInterval: Duration{5 * time.Second},
		ResourceTableName:     "resource-db",
		ExportTableName:       "resource-db-export",
		ResourceBucketName:    "resource-bulk-data",
		BlobKeySeparator:      "_",
		SearchIndexEndpoint:   "http://localhost:9200",
		AWSRegion:             "us-east-1",
	}
}

// Load builds a Config from the built-in defaults, an optional TOML file
// named by RSTORE_CONFIG_FILE, and environment variable overrides, in
// that order of increasing precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("RSTORE_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: decoding %s", path)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error
	cfg.EnableMultiTenancy = envBool("ENABLE_MULTI_TENANCY", cfg.EnableMultiTenancy, &err)
	cfg.UpdateCreateSupported = envBool("UPDATE_CREATE_SUPPORTED", cfg.UpdateCreateSupported, &err)
	cfg.LockDurationMS = envInt64("LOCK_DURATION_MS", cfg.LockDurationMS, &err)
	cfg.MaxExportPerUser = int(envInt64("MAX_CONCURRENT_EXPORT_PER_USER", int64(cfg.MaxExportPerUser), &err))
	cfg.MaxSystemExport = int(envInt64("MAX_SYSTEM_CONCURRENT_EXPORT", int64(cfg.MaxSystemExport), &err))
	cfg.ExportURLTTL = envDuration("EXPORT_URL_TTL", cfg.ExportURLTTL, &err)
	cfg.ChangeFeedPollInterval = envDuration("CHANGE_FEED_POLL_INTERVAL", cfg.ChangeFeedPollInterval, &err)
	cfg.ResourceTableName = envString("RESOURCE_TABLE_NAME", cfg.ResourceTableName)
	cfg.ExportTableName = envString("EXPORT_TABLE_NAME", cfg.ExportTableName)
	cfg.ResourceBucketName = envString("RESOURCE_BUCKET_NAME", cfg.ResourceBucketName)
	cfg.BlobKeySeparator = envString("BLOB_KEY_SEPARATOR", cfg.BlobKeySeparator)
	cfg.SearchIndexEndpoint = envString("SEARCH_INDEX_ENDPOINT", cfg.SearchIndexEndpoint)
	cfg.AWSRegion = envString("AWS_REGION", cfg.AWSRegion)
	if err != nil {
		return errors.Wrap(err, "config: parsing environment")
	}
	if len(cfg.BlobKeySeparator) != 1 {
		return errors.New("config: BLOB_KEY_SEPARATOR must be exactly one character")
	}
	return nil
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func envBool(name string, def bool, errOut *error) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errOut = errors.Wrapf(err, "%s=%q", name, v)
		return def
	}
	return b
}

func envInt64(name string, def int64, errOut *error) int64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errOut = errors.Wrapf(err, "%s=%q", name, v)
		return def
	}
	return n
}

func envDuration(name string, def Duration, errOut *error) Duration {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errOut = errors.Wrapf(err, "%s=%q", name, v)
		return def
	}
	return Duration{d}
}
