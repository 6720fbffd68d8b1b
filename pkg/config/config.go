// Package config loads the server-wide defaults from spec §6: block size,
// hash algorithm, default quotas, versioning policy, and listing limits.
// Grounded on the teacher's YAML-file pattern (cmd/warren apply.go's
// yaml.Unmarshal of a resource file) adapted to a single settings document
// read once at daemon startup instead of per-apply resources.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/synnefo-io/core/pkg/types"
)

// Config holds the deployment-wide defaults a fresh account/container
// inherits absent an explicit Policy (spec §4.5, §6).
type Config struct {
	BlockSize      int    `yaml:"block_size"`
	HashAlgorithm  string `yaml:"hash_algorithm"`

	DefaultAccountQuota   int64             `yaml:"default_account_quota"`
	DefaultContainerQuota int64             `yaml:"default_container_quota"`
	DefaultVersioning     types.Versioning  `yaml:"default_container_versioning"`
	FreeVersioning        bool              `yaml:"free_versioning"`

	MapCheckIntervalSeconds int `yaml:"map_check_interval"`

	PublicURLSecurity int    `yaml:"public_url_security"`
	PublicURLAlphabet string `yaml:"public_url_alphabet"`

	ListingLimit                  int `yaml:"listing_limit"`
	UpdateStatisticsAncestorsDepth int `yaml:"update_statistics_ancestors_depth"`
}

// Default returns spec §6's documented defaults.
func Default() Config {
	return Config{
		BlockSize:                      4 * 1024 * 1024,
		HashAlgorithm:                  "sha256",
		DefaultAccountQuota:            50 * 1024 * 1024 * 1024,
		DefaultContainerQuota:          0,
		DefaultVersioning:              types.VersioningAuto,
		FreeVersioning:                 false,
		MapCheckIntervalSeconds:        5,
		PublicURLSecurity:              16,
		PublicURLAlphabet:              "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ",
		ListingLimit:                   10000,
		UpdateStatisticsAncestorsDepth: 1,
	}
}

// DefaultContainerPolicy builds the Policy a freshly created container
// inherits absent an explicit override (spec §4.5, §6).
func (c Config) DefaultContainerPolicy() types.Policy {
	return types.Policy{
		Quota:      c.DefaultContainerQuota,
		Versioning: c.DefaultVersioning,
	}
}

// Load reads a YAML config file, overlaying it on Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
