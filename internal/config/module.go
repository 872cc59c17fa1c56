package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ModuleConfig names a registered implementation of a pipeline stage and
// carries its arguments.
//
// Args keep the loosely typed shape of the run configuration files, where
// numbers are frequently written as strings ("max_results": "4"). The
// typed accessors below accept both forms.
type ModuleConfig struct {
	Name string         `koanf:"name" validate:"required"`
	Args map[string]any `koanf:"args"`
}

// NewModuleConfig is a convenience constructor used by tests and factories.
func NewModuleConfig(name string, args map[string]any) ModuleConfig {
	return ModuleConfig{Name: name, Args: args}
}

// Has reports whether the argument is set.
func (m ModuleConfig) Has(key string) bool {
	_, ok := m.Args[key]
	return ok
}

// String returns the argument as a string, or def when unset.
func (m ModuleConfig) String(key, def string) string {
	v, ok := m.Args[key]
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

// Int returns the argument as an int, or def when unset.
func (m ModuleConfig) Int(key string, def int) (int, error) {
	v, ok := m.Args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != float64(int(val)) {
			return 0, fmt.Errorf("%w: %s.%s must be an integer, got %v", ErrInvalidConfig, m.Name, key, val)
		}
		return int(val), nil
	default:
		parsed, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(val)))
		if err != nil {
			return 0, fmt.Errorf("%w: %s.%s must be an integer: %v", ErrInvalidConfig, m.Name, key, err)
		}
		return parsed, nil
	}
}

// Float returns the argument as a float64, or def when unset.
func (m ModuleConfig) Float(key string, def float64) (float64, error) {
	v, ok := m.Args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	default:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(val)), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s.%s must be a number: %v", ErrInvalidConfig, m.Name, key, err)
		}
		return parsed, nil
	}
}

// Bool returns the argument as a bool, or def when unset.
func (m ModuleConfig) Bool(key string, def bool) (bool, error) {
	v, ok := m.Args[key]
	if !ok || v == nil {
		return def, nil
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(fmt.Sprint(v)))
	if err != nil {
		return false, fmt.Errorf("%w: %s.%s must be a boolean: %v", ErrInvalidConfig, m.Name, key, err)
	}
	return parsed, nil
}
