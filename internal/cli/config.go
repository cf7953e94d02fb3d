package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents common configuration for the CLI tools and the compile server.
type Config struct {
	Verbose bool   `json:"verbose"`
	Debug   bool   `json:"debug"`
	WorkDir string `json:"work_dir"`
	// CacheDir holds compiled artifacts for builds; empty disables the on-disk cache.
	CacheDir string `json:"cache_dir,omitempty"`

	Addr      string `json:"addr"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	CORSOrigins  []string `json:"cors_origins"`
	RateQPS      float64  `json:"rate_qps"`
	RateBurst    int      `json:"rate_burst"`
	MaxBodyBytes int64    `json:"max_body_bytes"`

	HTTP3   bool   `json:"http3"`
	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkDir:      ".",
		Addr:         ":8000",
		LogLevel:     "info",
		LogFormat:    "text",
		CORSOrigins:  []string{"*"},
		MaxBodyBytes: 1 << 20,
	}
}

// LoadConfig loads configuration from file over the defaults. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Default config if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from MINIPY_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("MINIPY_ADDR"); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup("MINIPY_CACHE_DIR"); ok {
		c.CacheDir = v
	}
	if v, ok := lookup("MINIPY_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("MINIPY_LOG_FORMAT"); ok && v != "" {
		c.LogFormat = v
	}
	if v, ok := lookup("MINIPY_CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("MINIPY_RATE_QPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid MINIPY_RATE_QPS %q", v)
		}
		c.RateQPS = f
	}
	if v, ok := lookup("MINIPY_RATE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid MINIPY_RATE_BURST %q", v)
		}
		c.RateBurst = n
	}
	if v, ok := lookup("MINIPY_MAX_BODY_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid MINIPY_MAX_BODY_BYTES %q", v)
		}
		c.MaxBodyBytes = n
	}
	return nil
}

// Load reads configPath and applies the process environment on top.
func Load(configPath string) (*Config, error) {
	c, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// Logger builds the logger described by the configuration.
func (c *Config) Logger() *Logger {
	level := c.LogLevel
	switch {
	case c.Debug:
		level = "debug"
	case c.Verbose && ParseLevel(level) > ParseLevel("info"):
		level = "info"
	}
	return NewLoggerWithOptions(LogOptions{Level: level, Format: c.LogFormat})
}

// SaveConfig saves configuration to file
func (c *Config) SaveConfig(configPath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
