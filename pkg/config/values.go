package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count written either as a plain integer or with a unit
// suffix such as 50MB or 1KiB.
type ByteSize int64

func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative byte size %q", s)
		}
		return ByteSize(n), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// AutoRestart is the restart policy applied when a process reaches EXITED.
type AutoRestart string

const (
	AutoRestartNever      AutoRestart = "false"
	AutoRestartAlways     AutoRestart = "true"
	AutoRestartUnexpected AutoRestart = "unexpected"
)

func ParseAutoRestart(s string) (AutoRestart, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unexpected":
		return AutoRestartUnexpected, nil
	case "true", "yes", "on", "1", "always":
		return AutoRestartAlways, nil
	case "false", "no", "off", "0", "never":
		return AutoRestartNever, nil
	}
	return "", fmt.Errorf("invalid autorestart value %q: expected true, false or unexpected", s)
}

// UnmarshalYAML accepts both YAML booleans and strings.
func (a *AutoRestart) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseAutoRestart(value.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a *AutoRestart) UnmarshalText(text []byte) error {
	parsed, err := ParseAutoRestart(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseUmask reads an octal umask; the empty string yields -1 (unset).
func ParseUmask(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1, nil
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 0o777 {
		return 0, fmt.Errorf("invalid umask %q", s)
	}
	return int(n), nil
}
