package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

const escapedDollar = "\x00ESCAPED_DOLLAR\x00"

// Load resolves the run configuration: defaults, then the optional YAML file
// at path, then the process environment. The result is validated.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup LookupFunc) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(cfg, path, lookup); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the YAML file at path onto DefaultConfig without applying
// environment overrides or validation.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFile(cfg, path, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r onto DefaultConfig.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewConfigurationErrorWithCause("", "failed to read config", err)
	}
	cfg := DefaultConfig()
	if err := decode(cfg, data, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string, lookup LookupFunc) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return NewConfigurationErrorWithCause(path, "failed to resolve path", err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // operator-supplied config path
	if err != nil {
		return NewConfigurationErrorWithCause(path, "failed to read config file", err)
	}

	return decode(cfg, data, lookup)
}

// decode unmarshals YAML onto cfg, so keys absent from the document keep
// their current values.
func decode(cfg *Config, data []byte, lookup LookupFunc) error {
	content := substituteEnvVars(string(data), lookup)

	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return NewConfigurationErrorWithCause("", "failed to parse YAML", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} with values from
// lookup. "$$" escapes a literal dollar sign.
func substituteEnvVars(content string, lookup LookupFunc) string {
	content = strings.ReplaceAll(content, "$$", escapedDollar)

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		if value, exists := lookup(submatches[1]); exists {
			return value
		}
		if len(submatches) >= 3 {
			return submatches[2]
		}
		return ""
	})

	return strings.ReplaceAll(result, escapedDollar, "$")
}

// Dump renders cfg as YAML with secret fields redacted.
func Dump(cfg *Config) (string, error) {
	redacted := *cfg
	if redacted.Vault.Token != "" {
		redacted.Vault.Token = "***"
	}
	if redacted.Vault.SecretID != "" {
		redacted.Vault.SecretID = "***"
	}

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}
