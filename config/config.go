// Package config loads the vgs configuration.
//
// Configuration comes from a YAML file (default vgs.yaml in the working
// directory) and is overridden by VGS_* environment variables. A missing
// file is not an error: defaults reproduce the layout of a lab checkout with
// res/ holding reference data and tmp/ holding run output.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file consulted when none is given.
const DefaultPath = "vgs.yaml"

// Config holds all vgs configuration.
type Config struct {
	// ResourcesDir holds reference FASTA/GenBank files, minimap2 indexes,
	// metadata tables and auspice_config.json.
	ResourcesDir string `yaml:"resources_dir"`

	// WorkDir holds per-job working directories.
	WorkDir string `yaml:"work_dir"`

	// Threads passed to minimap2 and augur (0 = number of CPUs).
	Threads int `yaml:"threads"`

	// Tools maps a tool name (minimap2, samtools, ...) to an executable path.
	Tools map[string]string `yaml:"tools"`

	// FastQC enables a fastqc report for every assembly upload.
	FastQC bool `yaml:"fastqc"`

	// JobsDB is the SQLite database recording jobs.
	JobsDB string `yaml:"jobs_db"`

	Server  ServerConfig  `yaml:"server"`
	Sketch  SketchConfig  `yaml:"sketch"`
	Logging LoggingConfig `yaml:"logging"`
	BVBRC   BVBRCConfig   `yaml:"bvbrc"`
}

// ServerConfig configures the browser UI.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
	Workers     int    `yaml:"workers"`
	// TokenFile, when set, requires clients to present the token it contains.
	TokenFile string `yaml:"token_file"`
}

// SketchConfig holds the k-mer sketch parameters for embeddings.
type SketchConfig struct {
	KSize     int  `yaml:"ksize"`
	Scaled    int  `yaml:"scaled"`
	Abundance bool `yaml:"abundance"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// BVBRCConfig configures the reference genome refresh.
type BVBRCConfig struct {
	BaseURL string `yaml:"base_url"`
	// TaxonIDs maps a reference name to the NCBI taxon queried for it.
	TaxonIDs map[string]string `yaml:"taxon_ids"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ResourcesDir: "res",
		WorkDir:      "tmp",
		Threads:      0,
		Tools:        map[string]string{},
		JobsDB:       "tmp/jobs.db",
		Server: ServerConfig{
			Addr:        "127.0.0.1:8501",
			MaxUploadMB: 4096,
			Workers:     1,
		},
		Sketch: SketchConfig{
			KSize:     11,
			Scaled:    1,
			Abundance: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		BVBRC: BVBRCConfig{
			BaseURL: "https://www.bv-brc.org/api",
			TaxonIDs: map[string]string{
				"TBEV": "11084",
				"CCHF": "1980519",
			},
		},
	}
}

// Load reads the config at path over the defaults and applies environment
// overrides. An empty path means DefaultPath; a missing file is ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from VGS_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("VGS_RESOURCES_DIR", &c.ResourcesDir)
	str("VGS_WORK_DIR", &c.WorkDir)
	str("VGS_JOBS_DB", &c.JobsDB)
	str("VGS_ADDR", &c.Server.Addr)
	str("VGS_LOG_LEVEL", &c.Logging.Level)
	str("VGS_TOKEN_FILE", &c.Server.TokenFile)

	if v, ok := lookup("VGS_THREADS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VGS_THREADS: %w", err)
		}
		c.Threads = n
	}
	if v, ok := lookup("VGS_FASTQC"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VGS_FASTQC: %w", err)
		}
		c.FastQC = b
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", c.Threads)
	}
	if c.Sketch.KSize <= 0 || c.Sketch.KSize > 32 {
		return fmt.Errorf("sketch.ksize must be in 1..32, got %d", c.Sketch.KSize)
	}
	if c.Sketch.Scaled <= 0 {
		return fmt.Errorf("sketch.scaled must be > 0, got %d", c.Sketch.Scaled)
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = 1
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	return nil
}

// ThreadCount resolves Threads, using the CPU count when it is 0.
func (c *Config) ThreadCount() int {
	if c.Threads > 0 {
		return c.Threads
	}
	return runtime.NumCPU()
}

// Tool returns the executable configured for name, defaulting to name itself.
func (c *Config) Tool(name string) string {
	if p, ok := c.Tools[name]; ok && p != "" {
		return p
	}
	return name
}
