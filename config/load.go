package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/pkg/retry"
)

// Document formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

type loadOptions struct {
	retry    retry.Config
	readFile func(string) ([]byte, error)
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithRetry overrides the read retry policy.
func WithRetry(cfg retry.Config) LoadOption {
	return func(o *loadOptions) {
		o.retry = cfg
	}
}

// WithReadFile replaces os.ReadFile.
func WithReadFile(fn func(string) ([]byte, error)) LoadOption {
	return func(o *loadOptions) {
		if fn != nil {
			o.readFile = fn
		}
	}
}

// FormatFor picks the document format from the file extension.
func FormatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads, validates and normalizes the configuration file at path. Read
// failures are retried with exponential backoff and jitter; a document that
// reads but does not parse or validate is not retried. Every failure is a
// *errors.ConfigError wrapping errors.ErrConfigLoad.
func Load(ctx context.Context, path string, opts ...LoadOption) (*Configuration, error) {
	o := loadOptions{retry: retry.DefaultConfig(), readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := retry.DoWithResult(ctx, o.retry, func() ([]byte, error) {
		return o.readFile(path)
	})
	if err != nil {
		return nil, errors.NewConfigError(path, errors.Join(errors.ErrConfigLoad, err))
	}

	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, errors.NewConfigError(path, errors.Join(errors.ErrConfigLoad, err))
	}
	return cfg, nil
}

// Parse validates and normalizes an in-memory document.
func Parse(data []byte, format string) (*Configuration, error) {
	if format == FormatYAML {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Parse", "decode yaml")
		}
		js, err := sonic.Marshal(v)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Parse", "convert yaml")
		}
		data = js
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte("{}")
	}

	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "decode json")
	}
	if raw == nil {
		raw = map[string]any{}
		data = []byte("{}")
	}
	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var doc document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "decode document")
	}
	return normalize(doc, raw)
}
