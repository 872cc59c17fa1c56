package config

import (
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration that loads from "1m30s" style strings or from
// a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, nerr := strconv.ParseFloat(s, 64)
		if nerr != nil {
			return fmt.Errorf("%w: duration %q", ErrInvalidConfig, s)
		}
		parsed = time.Duration(secs * float64(time.Second))
	}
	if parsed < 0 {
		return fmt.Errorf("%w: negative duration %q", ErrInvalidConfig, s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret is an oracle or embedding API key. Formatting it with %s, %v or
// %#v, or encoding it to JSON or text, never shows the key.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return "config.Secret(" + redacted + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Value returns the key itself.
func (s Secret) Value() string { return string(s) }
