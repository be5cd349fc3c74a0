// Package config merges CLI flags with an optional YAML config file.
// Flags take precedence over file values.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConnectionConfig is a pre-configured endpoint in the config file.
type ConnectionConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // "chef-server" or "controller"
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Org is the Chef organization for chef-server connections.
	Org string `yaml:"org"`
	// ClientKeyFile points at the Chef client PEM on disk; the key
	// itself never lives in the config file.
	ClientKeyFile string `yaml:"client_key_file"`
	Insecure      bool   `yaml:"insecure"`
}

// Config holds all configuration (CLI flags + config file).
type Config struct {
	Listen string `yaml:"listen"`
	// CookbookRoot is the local cookbook tree used when no chef-server
	// connection is named in a migration request.
	CookbookRoot string `yaml:"cookbook_root"`
	// OutputDir receives rendered playbooks.
	OutputDir string `yaml:"output_dir"`
	// PostgresDSN selects the Postgres state store; empty keeps
	// migration results in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
	// StrictLint makes lint findings fail validation for every run.
	StrictLint bool `yaml:"strict_lint"`
	// Retries is the per-request retry budget for endpoint HTTP calls.
	Retries     int                `yaml:"retries"`
	Connections []ConnectionConfig `yaml:"connections"`

	configFile string
}

// Parse reads CLI flags, then overlays config file values.
func Parse() *Config {
	c := &Config{}
	flag.StringVar(&c.configFile, "config", "", "Path to config file (YAML)")
	flag.StringVar(&c.Listen, "listen", "", "HTTP listen address")
	flag.StringVar(&c.CookbookRoot, "cookbooks", "", "Local cookbook directory")
	flag.StringVar(&c.OutputDir, "output", "", "Directory for rendered playbooks")
	flag.StringVar(&c.PostgresDSN, "postgres-dsn", "", "Postgres DSN for migration state (empty: in-memory)")
	flag.BoolVar(&c.StrictLint, "strict-lint", false, "Fail validation on lint findings")
	flag.IntVar(&c.Retries, "retries", -1, "HTTP retry budget per request")
	flag.Parse()

	if c.configFile != "" {
		if err := c.loadFile(c.configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}

	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Retries < 0 {
		c.Retries = 3
	}
	return c
}

// loadFile reads a YAML config file. File values only apply where the
// corresponding CLI flag was not set.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if c.Listen == "" {
		c.Listen = file.Listen
	}
	if c.CookbookRoot == "" {
		c.CookbookRoot = file.CookbookRoot
	}
	if c.OutputDir == "" {
		c.OutputDir = file.OutputDir
	}
	if c.PostgresDSN == "" {
		c.PostgresDSN = file.PostgresDSN
	}
	if c.Retries < 0 && file.Retries > 0 {
		c.Retries = file.Retries
	}
	if file.StrictLint {
		c.StrictLint = true
	}

	// Connections always come from the config file.
	c.Connections = file.Connections
	return nil
}
