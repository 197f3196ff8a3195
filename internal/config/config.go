package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by the configuration
const EnvPrefix = "RETCON_"

// Config represents the application configuration
type Config struct {
	Build  CommandConfig `koanf:"build"`
	Test   CommandConfig `koanf:"test"`
	Ollama OllamaConfig  `koanf:"ollama"`
	Engine EngineConfig  `koanf:"engine"`
	Git    GitConfig     `koanf:"git"`
	Log    LogConfig     `koanf:"log"`

	// Path is the configuration file that was loaded, empty when none was found
	Path string `koanf:"-"`
}

// CommandConfig is a verification command given as an argv list
type CommandConfig struct {
	Command []string `koanf:"command"`
	Skip    bool     `koanf:"skip"`
}

// OllamaConfig selects the model and bounds the reasoning conversation
type OllamaConfig struct {
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	MaxTurns    int     `koanf:"max_turns"`
	MaxDiff     int     `koanf:"max_diff"`
}

// EngineConfig tunes the reconstruction loop
type EngineConfig struct {
	WIPPrefix    string `koanf:"wip_prefix"`
	MaxFixRounds int    `koanf:"max_fix_rounds"`
}

// GitConfig holds the author of reconstructed commits
type GitConfig struct {
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// LogConfig configures console and debug file logging
type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

// Defaults returns the built-in configuration values
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"build.command":         []string{"go", "build", "./..."},
		"build.skip":            false,
		"test.command":          []string{"go", "test", "./..."},
		"test.skip":             false,
		"ollama.model":          "qwen2.5:14b",
		"ollama.temperature":    0.1,
		"ollama.max_turns":      40,
		"ollama.max_diff":       32768,
		"engine.wip_prefix":     "WIP: ",
		"engine.max_fix_rounds": 0,
		"git.author_name":       "retcon",
		"git.author_email":      "retcon@localhost",
		"log.level":             "info",
		"log.file":              "",
	}
}

// commandKeys are argv lists; their environment values split on whitespace
var commandKeys = map[string]bool{"build.command": true, "test.command": true}

// DefaultPaths are searched in order when no configuration file is given
var DefaultPaths = []string{"./retcon.toml", "$HOME/.retcon.toml"}

// Load builds the configuration from defaults, the configuration file,
// RETCON_ environment variables and finally overrides, usually the command
// line flags the user set.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	loaded := ""
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config %s: %w", configPath, err)
		}
		loaded = configPath
	} else {
		for _, path := range DefaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config %s: %w", path, err)
			}
			loaded = path
			break
		}
	}

	// RETCON_GIT_AUTHOR_NAME becomes git.author_name
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_", ".", 1)
		if commandKeys[key] {
			return key, strings.Fields(value)
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("error applying overrides: %w", err)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	config.Path = loaded
	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	if !c.Build.Skip && len(c.Build.Command) == 0 {
		errs = append(errs, errors.New("build.command is required unless build.skip is set"))
	}
	if !c.Test.Skip && len(c.Test.Command) == 0 {
		errs = append(errs, errors.New("test.command is required unless test.skip is set"))
	}
	if c.Ollama.Model == "" {
		errs = append(errs, errors.New("ollama.model is required"))
	}
	if c.Ollama.Temperature < 0 || c.Ollama.Temperature > 1 {
		errs = append(errs, fmt.Errorf("ollama.temperature must be between 0 and 1, got %g", c.Ollama.Temperature))
	}
	if c.Ollama.MaxTurns <= 0 {
		errs = append(errs, errors.New("ollama.max_turns must be positive"))
	}
	if c.Engine.MaxFixRounds < 0 {
		errs = append(errs, errors.New("engine.max_fix_rounds must not be negative"))
	}
	return errors.Join(errs...)
}
