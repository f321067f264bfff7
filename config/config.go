// Package config loads run settings from an optional YAML file with
// environment variable overrides on top of compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds every knob the runtime reads.
type Config struct {
	// RunID identifies the run toward the inference proxy. Assigned
	// when empty.
	RunID string `yaml:"run_id" env:"PATCHLOOP_RUN_ID"`

	// ProxyURL is the sandbox inference proxy base URL. When empty the
	// direct provider backend is used instead.
	ProxyURL string `yaml:"proxy_url" env:"PATCHLOOP_PROXY_URL"`

	// Provider names the direct gollm provider used when no proxy is
	// configured.
	Provider string `yaml:"provider" env:"PATCHLOOP_PROVIDER"`

	// Models is the rotation list; each retry advances one position.
	Models []string `yaml:"models" env:"PATCHLOOP_MODELS" envSeparator:","`

	Temperature   float64 `yaml:"temperature" env:"PATCHLOOP_TEMPERATURE"`
	MaxRetries    int     `yaml:"max_retries" env:"PATCHLOOP_MAX_RETRIES"`
	BaseDelaySecs float64 `yaml:"base_delay_secs" env:"PATCHLOOP_BASE_DELAY_SECS"`

	// TimeoutSecs is the global wall-clock budget for the whole run.
	TimeoutSecs int `yaml:"timeout_secs" env:"PATCHLOOP_TIMEOUT_SECS"`

	FixSteps           int `yaml:"fix_steps" env:"PATCHLOOP_FIX_STEPS"`
	FixKeepRecent      int `yaml:"fix_keep_recent" env:"PATCHLOOP_FIX_KEEP_RECENT"`
	TestFindSteps      int `yaml:"test_find_steps" env:"PATCHLOOP_TEST_FIND_STEPS"`
	TestFindKeepRecent int `yaml:"test_find_keep_recent" env:"PATCHLOOP_TEST_FIND_KEEP_RECENT"`

	PythonBin string `yaml:"python_bin" env:"PATCHLOOP_PYTHON_BIN"`

	// TestRunner is a repo-specific runner command tried when pytest
	// fails on a dependency error; TestRunnerMode is FILE or MODULE.
	TestRunner     string `yaml:"test_runner" env:"PATCHLOOP_TEST_RUNNER"`
	TestRunnerMode string `yaml:"test_runner_mode" env:"PATCHLOOP_TEST_RUNNER_MODE"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		ProxyURL: "http://sandbox-proxy",
		Provider: "openai",
		Models: []string{
			"deepseek-ai/DeepSeek-V3-0324",
			"Qwen/Qwen3-Coder-480B-A35B-Instruct",
			"moonshotai/Kimi-K2-Instruct",
			"zai-org/GLM-4.5-FP8",
		},
		Temperature:        0.0,
		MaxRetries:         5,
		BaseDelaySecs:      1.0,
		TimeoutSecs:        1800,
		FixSteps:           100,
		FixKeepRecent:      500,
		TestFindSteps:      40,
		TestFindKeepRecent: 40,
		PythonBin:          "python",
		TestRunnerMode:     "FILE",
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model is required")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("config: max_retries must be positive")
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("config: timeout_secs must be positive")
	}
	if c.FixSteps <= 0 || c.TestFindSteps <= 0 {
		return fmt.Errorf("config: step budgets must be positive")
	}
	if c.TestRunnerMode != "FILE" && c.TestRunnerMode != "MODULE" {
		return fmt.Errorf("config: test_runner_mode must be FILE or MODULE, got %q", c.TestRunnerMode)
	}
	return nil
}

// Timeout returns the global wall-clock budget as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}
