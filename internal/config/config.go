package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir          string `json:"data_dir"`
	LogLevel         string `json:"log_level"`
	MaxConcurrent    int    `json:"max_concurrent"`
	MaxToolRounds    int    `json:"max_tool_rounds"`
	SystemPromptPath string `json:"system_prompt_path,omitempty"`
	LLM              struct {
		Provider      string  `json:"provider"`
		BaseURL       string  `json:"base_url"`
		APIKey        string  `json:"api_key"`
		Model         string  `json:"model"`
		MaxTokens     int     `json:"max_tokens"`
		Temperature   float32 `json:"temperature"`
		RetryAttempts int     `json:"retry_attempts"`
	} `json:"llm"`
	HTTP struct {
		Listen string `json:"listen"`
		Mode   string `json:"mode"`
	} `json:"http"`
	Brave struct {
		APIKey string `json:"api_key"`
	} `json:"brave"`
	Tracing struct {
		Endpoint   string  `json:"endpoint"`
		SampleRate float64 `json:"sample_rate"`
		Insecure   bool    `json:"insecure"`
	} `json:"tracing"`
}

// DotEnvFiles are loaded into the process environment before env overrides
// are applied. Missing files are skipped; variables already set win.
var DotEnvFiles = []string{".env"}

// Default returns a Config populated with default values.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".chatagent"),
		LogLevel:      "info",
		MaxConcurrent: 8,
		MaxToolRounds: 10,
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.RetryAttempts = 3
	cfg.HTTP.Listen = ":8000"
	cfg.HTTP.Mode = "sync"
	cfg.Tracing.SampleRate = 1.0
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	// Override from env (highest precedence)
	switch cfg.LLM.Provider {
	case "anthropic":
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
	default:
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	}
	if braveKey := os.Getenv("BRAVE_API_KEY"); braveKey != "" {
		cfg.Brave.APIKey = braveKey
	}
	if listen := os.Getenv("CHATAGENT_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
	}

	return cfg, nil
}

func loadDotEnv() error {
	for _, f := range DotEnvFiles {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Validate reports configuration values the server cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm.provider %q (want openai or anthropic)", c.LLM.Provider)
	}
	switch c.HTTP.Mode {
	case "sync", "stream":
	default:
		return fmt.Errorf("unsupported http.mode %q (want sync or stream)", c.HTTP.Mode)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("max_tool_rounds must be at least 1")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}

// PIDFile returns the path of the server's PID file.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "chatagent.pid")
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its generic JSON representation.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as a flat dot-keyed map, optionally masking secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// GetValue returns the value stored under a dot-separated key in the config
// file, creating the file with defaults if it does not exist yet.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot-separated key in an existing config file.
// Values that parse as JSON (numbers, booleans) are stored typed; anything
// else is stored as a string.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	flat := Flatten(raw)
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}
