package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/roach88/devicegate/internal/machineid"
	"github.com/roach88/devicegate/internal/task"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MACHINEID"

// FileEnv names the environment variable holding the config file path.
const FileEnv = "MACHINEID_CONFIG"

// DefaultValidateDelay is the pause between register and validate.
const DefaultValidateDelay = time.Second

// Config is the merged devicegate configuration.
//
// Environment keys are derived from field names with split_words and always
// carry the MACHINEID_ prefix. Do not add envconfig:"NAME" tags: envconfig
// falls back to the bare NAME when the prefixed variable is unset.
type Config struct {
	OrgKey        string        `yaml:"org_key" split_words:"true" validate:"required,startswith=org_"`
	DeviceID      string        `yaml:"device_id" split_words:"true"`
	BaseURL       string        `yaml:"base_url" split_words:"true" validate:"required,url"`
	Timeout       time.Duration `yaml:"timeout" split_words:"true" validate:"gt=0"`
	ValidateDelay time.Duration `yaml:"validate_delay" split_words:"true" validate:"gte=0"`
	Journal       string        `yaml:"journal" split_words:"true"`
	Pushgateway   string        `yaml:"pushgateway" split_words:"true" validate:"omitempty,url"`
	Trace         bool          `yaml:"trace" split_words:"true"`
	Task          TaskConfig    `yaml:"task" split_words:"true"`
}

// TaskConfig configures the downstream LLM task.
type TaskConfig struct {
	Model   string `yaml:"model" split_words:"true" validate:"required"`
	BaseURL string `yaml:"base_url" split_words:"true" validate:"omitempty,url"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:       machineid.DefaultBaseURL,
		Timeout:       machineid.DefaultTimeout,
		ValidateDelay: DefaultValidateDelay,
		Task:          TaskConfig{Model: task.DefaultModel},
	}
}

// Load merges defaults, the config file at path (or $MACHINEID_CONFIG when
// path is empty) and the environment. It does not validate; call Validate
// once flags have been applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(FileEnv))
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Normalize()
	return &cfg, nil
}

// mergeFile overlays the keys present in a YAML file onto c.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := CheckSchema(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	// Decoding into the populated struct keeps defaults for absent keys.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Normalize trims whitespace the way shells and dotenv files tend to leave it.
// DeviceID is left untouched apart from blank values, since overrides are
// used verbatim.
func (c *Config) Normalize() {
	c.OrgKey = strings.TrimSpace(c.OrgKey)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Pushgateway = strings.TrimSpace(c.Pushgateway)
	c.Journal = strings.TrimSpace(c.Journal)
	c.Task.Model = strings.TrimSpace(c.Task.Model)
	c.Task.BaseURL = strings.TrimSpace(c.Task.BaseURL)
	if strings.TrimSpace(c.DeviceID) == "" {
		c.DeviceID = ""
	}
}

// MaskOrgKey shortens an organization key for display.
func MaskOrgKey(key string) string {
	const visible = 12
	runes := []rune(key)
	if len(runes) <= visible {
		return string(runes[:min(len(runes), 4)]) + "…"
	}
	return string(runes[:visible]) + "…"
}
