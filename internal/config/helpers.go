package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config *GlobalConfig
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *GlobalConfig) *ConfigHelpers {
	return &ConfigHelpers{config: config}
}

// ReportDir returns the absolute path to the report directory
func (c *ConfigHelpers) ReportDir() (string, error) {
	return filepath.Abs(c.config.ReportDir)
}

// HistoryDB returns the absolute path to the history database
func (c *ConfigHelpers) HistoryDB() (string, error) {
	return filepath.Abs(c.config.HistoryDB)
}

// LogLevel returns the configured log level
func (c *ConfigHelpers) LogLevel() string {
	return c.config.Logging.Level
}

// IsDebugMode returns true if debug logging is enabled
func (c *ConfigHelpers) IsDebugMode() bool {
	return c.config.Logging.Level == "debug"
}

// RPMRoot returns the install root handed to rpm, "/" when unset
func (c *ConfigHelpers) RPMRoot() string {
	if c.config.RPM.Root == "" {
		return "/"
	}
	return c.config.RPM.Root
}

// GetConfig returns the underlying global config (for advanced usage)
func (c *ConfigHelpers) GetConfig() *GlobalConfig {
	return c.config
}

// CreateReportDir ensures the report directory exists
func (c *ConfigHelpers) CreateReportDir() (string, error) {
	dir, err := c.ReportDir()
	if err != nil {
		return "", fmt.Errorf("resolving report directory: %w", err)
	}
	return dir, createDirIfNotExists(dir)
}

// CreateHistoryDir ensures the directory holding the history database exists
func (c *ConfigHelpers) CreateHistoryDir() error {
	path, err := c.HistoryDB()
	if err != nil {
		return fmt.Errorf("resolving history database path: %w", err)
	}
	return createDirIfNotExists(filepath.Dir(path))
}

// Helper function to create directories
func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
