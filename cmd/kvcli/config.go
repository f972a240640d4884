package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// fileConfig is the optional on-disk defaults file accepted by -c/--config,
// written as HuJSON (JSON with comments and trailing commas), the same
// format and library the ticket tool's config.go uses.
type fileConfig struct {
	BucketCount   uint64 `json:"bucket_count,omitempty"`
	AlignPower    uint8  `json:"align_power,omitempty"`
	FreePoolPower uint8  `json:"free_pool_power,omitempty"`
	RecordCacheCap int   `json:"record_cache_cap,omitempty"`
	MmapWindow    int64  `json:"mmap_window,omitempty"`
	DefragUnit    int    `json:"defrag_unit,omitempty"`
}

// loadFileConfig reads and parses a HuJSON defaults file. A missing path
// (empty string) returns the zero value without error.
func loadFileConfig(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var cfg fileConfig

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decoding config %s: %w", path, err)
	}

	return cfg, nil
}

// locationSuffix renders the file-config defaults as location-string
// `#key=value` fragments, so they compose with whatever options the user
// also passed on the location string itself (CLI location wins: loadFileConfig
// values are placed first, and the location parser keeps the last value
// given for a key, so an explicit key later in the string overrides them).
func (c fileConfig) locationSuffix() string {
	s := ""

	if c.BucketCount > 0 {
		s += fmt.Sprintf("#bnum=%d", c.BucketCount)
	}

	if c.AlignPower > 0 {
		s += fmt.Sprintf("#apow=%d", c.AlignPower)
	}

	if c.FreePoolPower > 0 {
		s += fmt.Sprintf("#fpow=%d", c.FreePoolPower)
	}

	if c.RecordCacheCap > 0 {
		s += fmt.Sprintf("#rcnum=%d", c.RecordCacheCap)
	}

	if c.MmapWindow > 0 {
		s += fmt.Sprintf("#xmsiz=%d", c.MmapWindow)
	}

	if c.DefragUnit > 0 {
		s += fmt.Sprintf("#dfunit=%d", c.DefragUnit)
	}

	return s
}
