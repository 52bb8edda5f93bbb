// Package config resolves the supervisor settings once at startup.
//
// Precedence is environment > optional YAML file (CONFIG_PATH) > defaults.
// Environment variable names match the container interface (INPUT_SOCKET,
// BASE_PASS, ...). A missing required setting is a startup error.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/infra"
)

// ConfigPathEnvVar is the environment variable pointing at an optional YAML file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultMaxTime is the failure count at which a check-task kills the child.
const DefaultMaxTime = 100

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every supervisor setting.
type Config struct {
	InputSocket      string        `koanf:"input_socket" validate:"required"`
	OutputSocket     string        `koanf:"output_socket" validate:"required"`
	BasePath         string        `koanf:"base_pass" validate:"required"`
	AllowedCountries []string      `koanf:"allowed_countries" validate:"required,min=1,dive,required"`
	IPListFilePath   string        `koanf:"iplist_file_path" validate:"required"`
	BasicCheck       string        `koanf:"basic_check" validate:"required"`
	IPCheck          string        `koanf:"ip_check" validate:"required"`
	MaxTime          int           `koanf:"max_time" validate:"min=1"`
	ResetInterval    time.Duration `koanf:"reset_interval" validate:"gt=0"`
	ChildCommand     []string      `koanf:"child_command" validate:"min=1,dive,required"`
	ReloadCommand    []string      `koanf:"reload_command" validate:"min=1,dive,required"`
	RegistryURL      string        `koanf:"apnic_url" validate:"required,url"`
	LogLevel         string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFile          string        `koanf:"log_file"`
	MetricsFile      string        `koanf:"metrics_file"`
}

// defaultConfig returns a Config with every optional setting filled in.
// Required settings stay empty so that validation catches their absence.
func defaultConfig() *Config {
	return &Config{
		MaxTime:       DefaultMaxTime,
		ResetInterval: time.Hour,
		ChildCommand:  []string{"/docker-entrypoint.sh", "nginx", "-g", "daemon off;"},
		ReloadCommand: []string{"nginx", "-s", "reload"},
		RegistryURL:   infra.DefaultRegistryURL,
		LogLevel:      "info",
	}
}

// sliceConfigPaths are parsed from comma-separated strings.
var sliceConfigPaths = []string{
	"allowed_countries",
	"child_command",
	"reload_command",
}

// Load builds the configuration from defaults, CONFIG_PATH and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransformFunc maps known environment variables to config keys and drops
// everything else.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if _, ok := knownKeys[key]; ok {
		return key
	}
	return ""
}

var knownKeys = func() map[string]struct{} {
	keys := make(map[string]struct{})
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		keys[t.Field(i).Tag.Get("koanf")] = struct{}{}
	}
	return keys
}()

// processSliceFields converts comma-separated string values to trimmed slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var validate = func() *validator.Validate {
	v := validator.New()
	// Report fields by their environment variable name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.ToUpper(fld.Tag.Get("koanf"))
	})
	return v
}()

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("missing required setting %s", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// BasicCheckEnabled reports whether the basic-auth failure check is on.
func (c *Config) BasicCheckEnabled() bool {
	return Enabled(c.BasicCheck)
}

// IPCheckEnabled reports whether the allow-list refresh is on.
func (c *Config) IPCheckEnabled() bool {
	return Enabled(c.IPCheck)
}

// Enabled interprets a task enable flag: anything except "false"
// (case-insensitive) turns the task on.
func Enabled(flag string) bool {
	return !strings.EqualFold(strings.TrimSpace(flag), "false")
}
