// Package config reads and writes treasury.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked for in the data directory.
const FileName = "treasury.yaml"

// Config represents the top-level treasury.yaml configuration.
type Config struct {
	Organisation string          `yaml:"organisation"`
	Database     DatabaseConfig  `yaml:"database"`
	Log          LogConfig       `yaml:"log"`
	Fiscal       FiscalConfig    `yaml:"fiscal"`
	Import       ImportConfig    `yaml:"import"`
	Operator     OperatorConfig  `yaml:"operator"`
	Archive      ArchiveConfig   `yaml:"archive"`
	Reporting    ReportingConfig `yaml:"reporting"`
	Server       ServerConfig    `yaml:"server"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// FiscalConfig defines the standard financial year.
type FiscalConfig struct {
	YearStart string `yaml:"year_start"` // "MM-DD" format, e.g. "10-01"
}

// ImportConfig locates the statement drop directory.
type ImportConfig struct {
	Dir string `yaml:"dir"`
}

// OperatorConfig is the principal the CLI acts as.
type OperatorConfig struct {
	User        string   `yaml:"user"`
	Permissions []string `yaml:"permissions"`
}

// ReportNames holds the archive path and file name templates of a shape.
type ReportNames struct {
	Path     string `yaml:"path,omitempty"`
	Filename string `yaml:"filename,omitempty"`
}

// ArchiveConfig selects where published reports go.
type ArchiveConfig struct {
	Backend         string                 `yaml:"backend"` // local, gcs or drive
	Format          string                 `yaml:"format"`
	LocalDir        string                 `yaml:"local_dir,omitempty"`
	Bucket          string                 `yaml:"bucket,omitempty"`
	Prefix          string                 `yaml:"prefix,omitempty"`
	DriveRootFolder string                 `yaml:"drive_root_folder,omitempty"`
	CredentialsFile string                 `yaml:"credentials_file,omitempty"`
	Reports         map[string]ReportNames `yaml:"reports,omitempty"`
}

// ReportingConfig tunes report content.
type ReportingConfig struct {
	StaleAfterDays  int    `yaml:"stale_after_days"`
	SponsorCategory string `yaml:"sponsor_category"`
	TopSponsors     int    `yaml:"top_sponsors"`
}

// ServerConfig controls the operator API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads a treasury.yaml file from disk. Keys the file leaves out keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new data directory.
func Default(organisation string) *Config {
	return &Config{
		Organisation: organisation,
		Database:     DatabaseConfig{Path: "treasury.db"},
		Log:          LogConfig{Level: "info", Format: "console"},
		Fiscal:       FiscalConfig{YearStart: "10-01"},
		Import:       ImportConfig{Dir: "import"},
		Operator: OperatorConfig{
			User:        "treasurer",
			Permissions: []string{"all"},
		},
		Archive: ArchiveConfig{
			Backend:  "local",
			Format:   "text",
			LocalDir: "reports",
		},
		Reporting: ReportingConfig{
			StaleAfterDays:  30,
			SponsorCategory: "Sponsorship",
			TopSponsors:     5,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
	}
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.Archive.Backend {
	case "local", "gcs", "drive":
	default:
		return fmt.Errorf("archive.backend %q: want local, gcs or drive", c.Archive.Backend)
	}
	if c.Archive.Backend == "gcs" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required for the gcs backend")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format %q: want console or json", c.Log.Format)
	}
	return nil
}

// Resolve makes a configured path absolute relative to the data directory.
func Resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
