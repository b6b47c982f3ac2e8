package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	yamlv3 "gopkg.in/yaml.v3"
)

// ToMap converts cfg into a nested map keyed by config names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yamlv3.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting of cfg as a flat map, with secrets masked
// when mask is set.
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

// GetValue returns the value of key as configured by defaults plus the file
// at path.
func GetValue(path, key string) (any, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return v, nil
}

// SetValue writes key=value into the file at path, creating it if needed.
// The value is parsed to the type of the key's default. Keys that are not
// known settings are rejected.
func SetValue(path, key, value string) error {
	def, ok := defaults()[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	typed, err := coerce(def, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	current := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(bytes.TrimSpace(data)) > 0 {
			if err := yamlv3.Unmarshal(data, &current); err != nil {
				return fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("read config %s: %w", path, err)
	}

	flat := Flatten(current)
	flat[key] = typed
	out, err := yamlv3.Marshal(Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(out)); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func coerce(def any, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch def.(type) {
	case int:
		return strconv.Atoi(value)
	case float64:
		return strconv.ParseFloat(value, 64)
	case bool:
		return strconv.ParseBool(value)
	default:
		return value, nil
	}
}
