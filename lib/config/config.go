// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides connection configuration for the carton
// CLI's network collaborators: the remote package registry and the
// deployment registrar.
//
// Configuration is loaded from a single YAML file specified by:
//   - the CARTON_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery; command-line flags
// override individual fields. This keeps the effective configuration
// deterministic and auditable.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "CARTON_CONFIG"

// Config is the client configuration for one carton invocation.
type Config struct {
	// Registry configures the remote package store that external
	// manifests are fetched from and staged packages are pushed to.
	Registry RegistryConfig `yaml:"registry"`

	// Deployment configures the deployment registrar notified of
	// newly pushed packages.
	Deployment DeploymentConfig `yaml:"deployment"`
}

// RegistryConfig is the remote package store connection.
type RegistryConfig struct {
	// URL is the registry base URL.
	URL string `yaml:"url"`

	// Insecure disables TLS certificate verification. Development
	// only.
	Insecure bool `yaml:"insecure"`
}

// DeploymentConfig is the deployment registrar connection.
type DeploymentConfig struct {
	// URL is the registrar base URL.
	URL string `yaml:"url"`

	// Username and Password authenticate the registration call.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads the configuration from the given path, or from the path
// named by CARTON_CONFIG when path is empty. When neither is set, an
// empty configuration is returned and every field must come from
// flags.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}
