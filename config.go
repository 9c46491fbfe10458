package robustalloc

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"reflect"
	"unicode"

	"github.com/PipMY/MarsRoverRobustMemoryAllocator/allocator"
	"github.com/PipMY/MarsRoverRobustMemoryAllocator/backing"
	"github.com/cockroachdb/errors"
	"github.com/naoina/toml"
)

// Config ...
type Config struct {
	Size           int    // arena capacity in bytes
	Placement      string // first-fit or best-fit
	Backing        string // heap or mmap
	Pattern        string // hex bytes the backing region is filled with, empty for none
	LogAllocations bool
}

// DefaultConfig returns the mrdriver defaults: 32 KiB, first-fit, Go heap.
func DefaultConfig() Config {
	return Config{
		Size:      32768,
		Placement: allocator.FirstFit.String(),
		Backing:   backing.Heap.String(),
		Pattern:   hex.EncodeToString(backing.DriverPattern),
	}
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s for available fields", rt.PkgPath())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// LoadConfig overlays the TOML file at path onto conf. Keys absent from the
// file keep their current values.
func LoadConfig(path string, conf *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config")
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(conf)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return err
}

// WriteConfig encodes conf as TOML.
func WriteConfig(w io.Writer, conf Config) error {
	out, err := tomlSettings.Marshal(&conf)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	_, err = w.Write(out)
	return err
}

type resolvedConfig struct {
	size      int
	placement allocator.Placement
	backing   backing.Kind
	pattern   []byte
}

func (c Config) resolve() (resolvedConfig, error) {
	if c.Size < allocator.MinCapacity {
		return resolvedConfig{}, errors.Wrapf(allocator.ErrInvalidArgument,
			"config: size %d below minimum %d", c.Size, allocator.MinCapacity)
	}
	placement, err := allocator.ParsePlacement(c.Placement)
	if err != nil {
		return resolvedConfig{}, errors.Wrap(err, "config")
	}
	kind, err := backing.ParseKind(c.Backing)
	if err != nil {
		return resolvedConfig{}, errors.Wrap(err, "config")
	}
	pattern, err := hex.DecodeString(c.Pattern)
	if err != nil {
		return resolvedConfig{}, errors.Wrapf(err, "config: pattern %q", c.Pattern)
	}
	return resolvedConfig{
		size:      c.Size,
		placement: placement,
		backing:   kind,
		pattern:   pattern,
	}, nil
}
