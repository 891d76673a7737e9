package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment names.
const (
	EnvPrefix = "MESHRSA_"
	EnvConfig = "MESHRSA_CONFIG"
)

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"subjects":   true,
	"mask_paths": true,
}

// Load builds a Config by layering defaults, an optional YAML file and env
// vars. Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) at path, or MESHRSA_CONFIG when path is empty
//  3. env (prefix MESHRSA_)
//
// Load does not validate; commands call the Validate method they need.
func Load(ctx context.Context, path string) (*Config, error) {
	base := New(ctx)
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// MESHRSA_LAG_MS -> lag_ms. Flat keys keep their underscores.
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(EnvPrefix))
		if key == "config" {
			return "", nil
		}
		if listKeys[key] {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return key, out
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	return &cfg, nil
}
