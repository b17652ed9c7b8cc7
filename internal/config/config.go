package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/open-edge-platform/os-package-reconciler/internal/config/validate"
	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OSPKG_"

// GlobalConfig holds the reconciler settings that are not part of a
// desired-state document.
type GlobalConfig struct {
	Logging         LoggingConfig  `yaml:"logging" toml:"logging"`
	Packages        PackagesConfig `yaml:"packages" toml:"packages"`
	RPM             RPMConfig      `yaml:"rpm" toml:"rpm"`
	HistoryDB       string         `yaml:"history_db" toml:"history_db"`
	ReportDir       string         `yaml:"report_dir" toml:"report_dir"`
	ContentModified []string       `yaml:"content_modified" toml:"content_modified"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// PackagesConfig controls package classes and removal.
type PackagesConfig struct {
	InstallOnly     []string `yaml:"install_only" toml:"install_only"`
	EraseFlags      []string `yaml:"erase_flags" toml:"erase_flags"`
	RemoveUnmanaged bool     `yaml:"remove_unmanaged" toml:"remove_unmanaged"`
}

type RPMConfig struct {
	Binary string `yaml:"binary" toml:"binary"`
	Root   string `yaml:"root" toml:"root"`
	Sudo   bool   `yaml:"sudo" toml:"sudo"`
	// CheckRemote fetches the header of http(s) artifacts before a
	// transaction, the same check local files always get.
	CheckRemote bool `yaml:"check_remote" toml:"check_remote"`
}

// DefaultGlobalConfig returns the settings used when no file is given.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Logging: LoggingConfig{Level: "info"},
		Packages: PackagesConfig{
			EraseFlags: append([]string(nil), ospackage.DefaultEraseFlags...),
		},
		RPM:       RPMConfig{Binary: "rpm", Root: "/"},
		HistoryDB: "/var/lib/os-package-reconciler/history.db",
	}
}

// LoadGlobalConfig reads path over the defaults and applies OSPKG_*
// environment overrides. An empty path yields defaults plus overrides.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := parseGlobalConfig(cfg, data, filepath.Ext(path)); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseGlobalConfig(cfg *GlobalConfig, data []byte, ext string) error {
	var jsonData []byte
	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		var err error
		if jsonData, err = sigsyaml.YAMLToJSON(data); err != nil {
			return fmt.Errorf("converting YAML: %w", err)
		}
		if string(jsonData) == "null" {
			return nil
		}
		if err := validate.ValidateConfigJSON(jsonData); err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML: %w", err)
		}
	case ".toml":
		raw := map[string]interface{}{}
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return fmt.Errorf("parsing TOML: %w", err)
		}
		var err error
		if jsonData, err = json.Marshal(raw); err != nil {
			return fmt.Errorf("converting TOML: %w", err)
		}
		if err := validate.ValidateConfigJSON(jsonData); err != nil {
			return err
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing TOML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (expected .yaml, .yml or .toml)", ext)
	}
	return nil
}

func applyEnvOverrides(cfg *GlobalConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = splitList(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s value %q: %w", EnvPrefix, key, v, err)
		}
		*dst = b
		return nil
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("RPM", &cfg.RPM.Binary)
	str("ROOT", &cfg.RPM.Root)
	str("HISTORY_DB", &cfg.HistoryDB)
	str("REPORT_DIR", &cfg.ReportDir)
	list("INSTALL_ONLY", &cfg.Packages.InstallOnly)
	list("ERASE_FLAGS", &cfg.Packages.EraseFlags)
	list("CONTENT_MODIFIED", &cfg.ContentModified)
	if err := boolean("SUDO", &cfg.RPM.Sudo); err != nil {
		return err
	}
	if err := boolean("CHECK_REMOTE", &cfg.RPM.CheckRemote); err != nil {
		return err
	}
	return boolean("REMOVE_UNMANAGED", &cfg.Packages.RemoveUnmanaged)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the settings the reconciler cannot run without.
func (c *GlobalConfig) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if strings.TrimSpace(c.RPM.Binary) == "" {
		return fmt.Errorf("rpm binary must not be empty")
	}
	return nil
}

// Policy returns the package class settings for the reconciler.
func (c *GlobalConfig) Policy() ospackage.Policy {
	return ospackage.NewPolicy(c.Packages.InstallOnly, c.Packages.EraseFlags)
}
