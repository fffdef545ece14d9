// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads, expands, decodes, defaults, and validates a configuration file.
// Configuration errors fail fast before any work starts.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Decode to a generic tree first so env substitution sees every string.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)

	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode expanded config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(reencoded, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Projects == nil {
		cfg.Projects = make(map[string]*ProjectConfig)
	}
	for id, project := range cfg.Projects {
		if project != nil {
			project.ProjectID = id
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Redacted renders the effective configuration as YAML with secrets masked.
// Used by --print-config.
func (c *Config) Redacted() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("failed to reload config for redaction: %w", err)
	}

	redactSecrets(raw)

	out, err := yaml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("failed to render redacted config: %w", err)
	}
	return string(out), nil
}

// secretKeySuffixes mark config keys whose values must never be printed.
var secretKeySuffixes = []string{"api_key", "apikey", "token", "password", "secret"}

func redactSecrets(node any) {
	switch v := node.(type) {
	case map[string]any:
		for key, value := range v {
			if s, ok := value.(string); ok && s != "" && isSecretKey(key) {
				v[key] = "***"
				continue
			}
			redactSecrets(value)
		}
	case []any:
		for _, item := range v {
			redactSecrets(item)
		}
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range secretKeySuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
