package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoadOptions selects the config file and the highest-priority overrides.
type LoadOptions struct {
	// File is an explicit config path. When empty the default locations are
	// searched and a missing file is not an error.
	File string

	// Overrides are dotted keys (e.g. "run.cpus") set by command-line flags.
	Overrides map[string]any
}

// Load builds the configuration and validates it.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := locateFile(opts.File)
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := readFile(v, path); err != nil {
			return Config{}, err
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// UsedFile reports which config file Load would read, or "".
func UsedFile(explicit string) string {
	path, _ := locateFile(explicit)
	return path
}

// DefaultFiles lists the searched config locations in order.
func DefaultFiles() []string {
	files := []string{AppName + ".yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, AppName, "config.yaml"))
	}
	return files
}

func locateFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, candidate := range DefaultFiles() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", nil
}

// readFile validates the YAML file against the schema, then loads it.
func readFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert config file %s: %w", path, err)
	}
	if err := ValidateRaw(jsonData); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}
