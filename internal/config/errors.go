// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"strings"
)

// ConfigurationError reports tuning values that were outside their documented
// range. It never escapes to end users: offending values are clamped and the
// error is only logged.
type ConfigurationError struct {
	Fields []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration values out of range: %s", strings.Join(e.Fields, ", "))
}

// fieldCheck accumulates out-of-range field names during validation.
type fieldCheck struct {
	fields []string
}

func (c *fieldCheck) inRange(name string, v, lo, hi float64) {
	if v != v || v < lo || v > hi {
		c.fields = append(c.fields, fmt.Sprintf("%s=%g (want %g..%g)", name, v, lo, hi))
	}
}

func (c *fieldCheck) err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ConfigurationError{Fields: c.fields}
}

// clamp bounds v to [lo, hi]; NaN falls back to def.
func clamp(v, lo, hi, def float64) float64 {
	if v != v {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
