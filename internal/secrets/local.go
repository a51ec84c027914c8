package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// LocalProviderConfig holds configuration for the local file secrets provider
type LocalProviderConfig struct {
	// BasePath is the base directory for secrets
	BasePath string
	Logger   observability.Logger
	// Metrics is optional
	Metrics *Metrics
}

// LocalProvider reads secrets from files below a base directory:
//   - base-path/secret-name/key (each key is a separate file, as mounted
//     Kubernetes secret volumes look)
//   - base-path/secret-name.yaml or .yml (single file with all keys)
//   - base-path/secret-name.json (single file with all keys)
type LocalProvider struct {
	basePath string
	logger   observability.Logger
	metrics  *Metrics
}

// NewLocalProvider creates a new local file secrets provider
func NewLocalProvider(cfg *LocalProviderConfig) (*LocalProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("%w: base path is required", ErrProviderNotConfigured)
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: base path does not exist: %s", ErrProviderNotConfigured, cfg.BasePath)
		}
		return nil, fmt.Errorf("%w: failed to access base path: %w", ErrProviderNotConfigured, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: base path is not a directory: %s", ErrProviderNotConfigured, cfg.BasePath)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &LocalProvider{
		basePath: cfg.BasePath,
		logger:   logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Type returns the provider type
func (p *LocalProvider) Type() ProviderType {
	return ProviderTypeLocal
}

// GetSecret retrieves a secret by path, trying the directory layout first
// and then YAML and JSON files.
func (p *LocalProvider) GetSecret(_ context.Context, path string) (secret *Secret, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordOperation(p.Type(), "get", time.Since(start), err)
	}()

	cleanPath, err := cleanSecretPath(path)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("getting local secret",
		observability.String("path", cleanPath),
		observability.String("base_path", p.basePath),
	)

	dirPath := filepath.Join(p.basePath, cleanPath)
	if info, statErr := os.Stat(dirPath); statErr == nil && info.IsDir() {
		if secret, dirErr := p.readDirectory(dirPath, cleanPath); dirErr == nil {
			return secret, nil
		}
	}

	formats := []struct {
		ext    string
		source string
		decode func([]byte, interface{}) error
		encode func(interface{}) ([]byte, error)
	}{
		{".yaml", "yaml", yaml.Unmarshal, json.Marshal},
		{".yml", "yaml", yaml.Unmarshal, json.Marshal},
		{".json", "json", json.Unmarshal, json.Marshal},
	}

	for _, format := range formats {
		filePath := filepath.Join(p.basePath, cleanPath+format.ext)
		content, readErr := os.ReadFile(filepath.Clean(filePath))
		if readErr != nil {
			continue
		}

		var doc map[string]interface{}
		if err := format.decode(content, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
		}

		return &Secret{
			Name:     cleanPath,
			Data:     stringData(doc, format.encode),
			Metadata: map[string]string{"source": format.source, "file": filePath},
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
}

// readDirectory reads a secret where each regular file is one key.
func (p *LocalProvider) readDirectory(dirPath, name string) (*Secret, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	data := make(map[string][]byte)
	for _, entry := range entries {
		// Kubernetes volume mounts keep ..data symlinks next to the keys.
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		filePath := filepath.Join(dirPath, entry.Name())
		content, err := os.ReadFile(filepath.Clean(filePath))
		if err != nil {
			p.logger.Warn("failed to read key file",
				observability.String("file", filePath),
				observability.Error(err),
			)
			continue
		}
		data[entry.Name()] = []byte(strings.TrimSuffix(string(content), "\n"))
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("no key files in %s", dirPath)
	}

	return &Secret{
		Name:     name,
		Data:     data,
		Metadata: map[string]string{"source": "directory"},
	}, nil
}

// HealthCheck verifies the base directory is still accessible.
func (p *LocalProvider) HealthCheck(context.Context) error {
	info, err := os.Stat(p.basePath)
	if err == nil && !info.IsDir() {
		err = fmt.Errorf("%s is not a directory", p.basePath)
	}
	if err != nil {
		p.metrics.RecordHealthStatus(p.Type(), false)
		return fmt.Errorf("base path not accessible: %w", err)
	}
	p.metrics.RecordHealthStatus(p.Type(), true)
	return nil
}

// Close cleans up provider resources
func (p *LocalProvider) Close() error {
	return nil
}

// cleanSecretPath rejects empty paths and paths escaping the base directory.
func cleanSecretPath(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	cleanPath := filepath.Clean(path)
	if filepath.IsAbs(cleanPath) || cleanPath == ".." || strings.HasPrefix(cleanPath, "../") {
		return "", fmt.Errorf("%w: %s escapes the base path", ErrInvalidPath, path)
	}
	return cleanPath, nil
}
