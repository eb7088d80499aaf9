// Package config loads .callgraph.yaml with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory and the user config dir.
const FileName = ".callgraph.yaml"

// EnvPrefix prefixes environment overrides, e.g. CALLGRAPH_MAX_DEPTH.
const EnvPrefix = "CALLGRAPH"

// Config is the complete runtime configuration.
type Config struct {
	// DataDir holds the project stores. Empty means the user cache dir.
	DataDir        string `mapstructure:"data_dir" yaml:"data_dir"`
	ProjectRoot    string `mapstructure:"project_root" yaml:"project_root"`
	ProjectPackage string `mapstructure:"project_package" yaml:"project_package"`
	// Backend selects the document store: sqlite or badger.
	Backend string `mapstructure:"backend" yaml:"backend"`

	BatchSize     int `mapstructure:"batch_size" yaml:"batch_size"`
	MergePageSize int `mapstructure:"merge_page_size" yaml:"merge_page_size"`
	MaxFetch      int `mapstructure:"max_fetch" yaml:"max_fetch"`
	MaxDepth      int `mapstructure:"max_depth" yaml:"max_depth"`
	ImpactWidth   int `mapstructure:"impact_width" yaml:"impact_width"`

	CustomModulePrefix string   `mapstructure:"custom_module_prefix" yaml:"custom_module_prefix"`
	GeneratedMarkers   []string `mapstructure:"generated_markers" yaml:"generated_markers"`
	ExternalMarkers    []string `mapstructure:"external_markers" yaml:"external_markers"`
	// AllowedPackages pins dependency versions during resolution.
	AllowedPackages []string `mapstructure:"allowed_packages" yaml:"allowed_packages"`
	Domains         []string `mapstructure:"domains" yaml:"domains"`
	// Packages are the dependency artifact roots kept indexed by index-package and serve --watch.
	Packages []Package `mapstructure:"packages" yaml:"packages"`

	UsageTypes UsageTypes `mapstructure:"usage_types" yaml:"usage_types"`
	Analyzers  Analyzers  `mapstructure:"analyzers" yaml:"analyzers"`

	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Package is a dependency package and the directory holding its compiled artifacts.
type Package struct {
	Name string `mapstructure:"name" yaml:"name"`
	Dir  string `mapstructure:"dir" yaml:"dir"`
}

// UsageTypes names the call and declaration usage types of the document store.
type UsageTypes struct {
	Call        string `mapstructure:"call" yaml:"call"`
	Declaration string `mapstructure:"declaration" yaml:"declaration"`
}

// Analyzers locates the external analyzer services.
type Analyzers struct {
	BytecodeURL string        `mapstructure:"bytecode_url" yaml:"bytecode_url"`
	SourceURL   string        `mapstructure:"source_url" yaml:"source_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:          "sqlite",
		BatchSize:        500,
		MergePageSize:    500,
		MaxFetch:         10000,
		MaxDepth:         50,
		ImpactWidth:      10,
		GeneratedMarkers: []string{"/build/", "/src-gen/", `\build\`, `\src-gen\`},
		ExternalMarkers:  []string{"axelor-open-platform"},
		UsageTypes: UsageTypes{
			Call:        "java_method_call",
			Declaration: "java_declaration",
		},
		Analyzers: Analyzers{
			BytecodeURL: "http://localhost:8766",
			SourceURL:   "http://localhost:8765",
			Timeout:     10 * time.Minute,
		},
	}
}

// Load reads path, or .callgraph.yaml from the working directory and
// $HOME/.config/callgraph-mcp when path is empty. A missing default file
// yields the defaults; CALLGRAPH_* variables override either.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "callgraph-mcp"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so that env overrides apply without a file.
func setDefaults(v *viper.Viper, def *Config) error {
	raw, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			if sub, ok := val.(map[string]any); ok {
				walk(prefix+k+".", sub)
				continue
			}
			v.SetDefault(prefix+k, val)
		}
	}
	walk("", m)
	return nil
}

// Validate rejects values the stores and queries cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case "sqlite", "badger":
	default:
		return &Error{Field: "backend", Message: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	for field, n := range map[string]int{
		"batch_size":      c.BatchSize,
		"merge_page_size": c.MergePageSize,
		"max_fetch":       c.MaxFetch,
		"max_depth":       c.MaxDepth,
		"impact_width":    c.ImpactWidth,
	} {
		if n <= 0 {
			return &Error{Field: field, Message: "must be positive"}
		}
	}
	return nil
}

// Write renders cfg as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Error is a config validation failure.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
