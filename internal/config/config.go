package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override file
// settings. Nested keys are separated by a double underscore, e.g.
// ESHELPER_ENGINE__URL.
const EnvPrefix = "ESHELPER_"

const (
	DefaultURL             = "http://localhost:9200"
	DefaultIdentifierField = "id"
	DefaultSnippetField    = "snippet"
	DefaultDocumentType    = "_doc"
)

// Config holds the complete application configuration.
type Config struct {
	Engine  EngineConfig  `koanf:"engine"`
	Client  ClientConfig  `koanf:"client"`
	Bulk    BulkConfig    `koanf:"bulk"`
	Load    LoadConfig    `koanf:"load"`
	Metrics MetricsConfig `koanf:"metrics"`
	Logging LoggingConfig `koanf:"logging"`
}

type EngineConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// ClientConfig shapes how documents are written and how search hits are
// post-processed. It is shared by reference and must not change after the
// client is built.
type ClientConfig struct {
	// IdentifierField receives the engine's document id on every hit.
	IdentifierField string `koanf:"identifier_field"`
	// SkipIdentifier disables id injection entirely.
	SkipIdentifier bool `koanf:"skip_identifier"`
	// SnippetField receives joined highlight fragments.
	SnippetField string `koanf:"snippet_field"`
	// DocumentType is the legacy mapping type. Empty selects the typeless API.
	DocumentType string `koanf:"document_type"`

	Codec Codec `koanf:"-"`
}

type BulkConfig struct {
	BatchSize int `koanf:"batch_size"`
}

type LoadConfig struct {
	Files            []string      `koanf:"files"`
	Index            string        `koanf:"index"`
	Schedule         string        `koanf:"schedule"`
	CheckpointDir    string        `koanf:"checkpoint_dir"`
	IDField          string        `koanf:"id_field"`     // Use this field as the document _id.
	StripFields      []string      `koanf:"strip_fields"` // Removed from every document before indexing.
	ReportIndex      string        `koanf:"report_index"` // Empty disables run reports.
	ProgressInterval time.Duration `koanf:"progress_interval"`
}

type MetricsConfig struct {
	Listen string `koanf:"listen"`
}

type LoggingConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"` // "text" or "json"
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// Load reads configuration from the given YAML file path and applies
// environment overrides on top of it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// An explicit empty document_type selects the typeless API and must
	// survive defaulting.
	explicitType := k.Exists("client.document_type")
	setDefaults(&cfg)
	if explicitType {
		cfg.Client.DocumentType = k.String("client.document_type")
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, pointing at
// the local engine.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// DefaultClient returns the default client section.
func DefaultClient() ClientConfig {
	return Default().Client
}

// WithDefaults returns c with empty fields replaced by defaults. The
// document type is left alone because empty is meaningful there.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.IdentifierField == "" {
		c.IdentifierField = DefaultIdentifierField
	}
	if c.SnippetField == "" {
		c.SnippetField = DefaultSnippetField
	}
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	return c
}

// EngineURL builds an http URL for hostname and port.
func EngineURL(hostname string, port int) string {
	return fmt.Sprintf("http://%s:%d", hostname, port)
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func setDefaults(cfg *Config) {
	if cfg.Engine.URL == "" {
		cfg.Engine.URL = DefaultURL
	}
	if cfg.Engine.Timeout <= 0 {
		cfg.Engine.Timeout = 30 * time.Second
	}
	if cfg.Client.DocumentType == "" {
		cfg.Client.DocumentType = DefaultDocumentType
	}
	cfg.Client = cfg.Client.WithDefaults()
	if cfg.Bulk.BatchSize <= 0 {
		cfg.Bulk.BatchSize = 1000
	}
	if cfg.Load.Schedule == "" {
		cfg.Load.Schedule = "0 2 * * *"
	}
	if cfg.Load.CheckpointDir == "" {
		cfg.Load.CheckpointDir = "/var/lib/eshelper"
	}
	if cfg.Load.ProgressInterval <= 0 {
		cfg.Load.ProgressInterval = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays <= 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Engine.URL)
	if err != nil {
		return fmt.Errorf("invalid engine.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("engine.url must use http or https, got %q", cfg.Engine.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("engine.url has no host: %q", cfg.Engine.URL)
	}
	if cfg.Client.IdentifierField == cfg.Client.SnippetField {
		return fmt.Errorf("client.identifier_field and client.snippet_field must differ (both %q)", cfg.Client.SnippetField)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	return nil
}
