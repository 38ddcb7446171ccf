package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count written as "4 MiB", "500kB" or a plain number.
type ByteSize int64

func (b *ByteSize) parse(s string) error {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// String formats the size with binary units.
func (b ByteSize) String() string {
	if b < 0 {
		return fmt.Sprintf("%d", int64(b))
	}
	return humanize.IBytes(uint64(b))
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(n *yaml.Node) error {
	return b.parse(n.Value)
}

// MarshalText implements encoding.TextMarshaler, used by the TOML encoder.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	return b.parse(string(text))
}

// UnmarshalTOML implements toml.Unmarshaler so bare integers decode too.
func (b *ByteSize) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case int64:
		*b = ByteSize(x)
		return nil
	case string:
		return b.parse(x)
	default:
		return fmt.Errorf("invalid byte size %v", v)
	}
}
