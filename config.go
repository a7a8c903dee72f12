package cvs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Domain selects the numeric domain the index, query vectors and scores are
// computed in.
type Domain int

const (
	Float32 Domain = iota
	FixedPoint
)

// BackendKind selects where scores are computed.
type BackendKind int

const (
	CPU BackendKind = iota
	Accelerator
)

// Density selects how query vectors are represented.
type Density int

const (
	Sparse Density = iota
	Dense
)

var (
	domainNames  = []string{"float32", "int32"}
	backendNames = []string{"cpu", "accelerator"}
	densityNames = []string{"sparse", "dense"}
)

func (d Domain) String() string                    { return enumName(domainNames, int(d)) }
func (b BackendKind) String() string               { return enumName(backendNames, int(b)) }
func (d Density) String() string                   { return enumName(densityNames, int(d)) }
func (d Domain) MarshalText() ([]byte, error)      { return []byte(d.String()), nil }
func (b BackendKind) MarshalText() ([]byte, error) { return []byte(b.String()), nil }
func (d Density) MarshalText() ([]byte, error)     { return []byte(d.String()), nil }

func (d *Domain) UnmarshalText(text []byte) error {
	v, err := parseEnum("domain", domainNames, text)
	*d = Domain(v)
	return err
}

func (b *BackendKind) UnmarshalText(text []byte) error {
	v, err := parseEnum("backend", backendNames, text)
	*b = BackendKind(v)
	return err
}

func (d *Density) UnmarshalText(text []byte) error {
	v, err := parseEnum("density", densityNames, text)
	*d = Density(v)
	return err
}

func enumName(names []string, v int) string {
	if v < 0 || v >= len(names) {
		return fmt.Sprintf("unknown(%d)", v)
	}
	return names[v]
}

func parseEnum(field string, names []string, text []byte) (int, error) {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, invalidArg(field, "%q is not one of %s", s, strings.Join(names, ", "))
}

// DeviceConfig describes the accelerator the engine drives.
type DeviceConfig struct {
	Name         string `yaml:"name" toml:"name"`
	MemoryMB     int64  `yaml:"memory_mb" toml:"memory_mb"`
	ComputeUnits int    `yaml:"compute_units" toml:"compute_units"`
}

// Config holds the constants shared by index build and query encoding, and
// the accelerator description. It is fixed for the lifetime of an Engine.
type Config struct {
	Space EncodingSpace `yaml:"space" toml:"space"`
	// Accuracy is the fixed-point scale applied to weights.
	Accuracy int32        `yaml:"accuracy" toml:"accuracy"`
	Device   DeviceConfig `yaml:"device" toml:"device"`
}

func DefaultConfig() Config {
	return Config{
		Space:    DefaultEncodingSpace(),
		Accuracy: defaultAccuracy,
		Device: DeviceConfig{
			Name:         "emulated",
			MemoryMB:     4096,
			ComputeUnits: runtime.GOMAXPROCS(0),
		},
	}
}

func (c Config) Validate() error {
	if err := c.Space.Validate(); err != nil {
		return err
	}
	if c.Accuracy <= 0 || c.Accuracy > maxAccuracy {
		return invalidArg("accuracy", "must be in [1, %d], got %d", maxAccuracy, c.Accuracy)
	}
	if c.Device.MemoryMB <= 0 {
		return invalidArg("device.memory_mb", "must be positive, got %d", c.Device.MemoryMB)
	}
	return nil
}

// Params are the per-call inputs of a search.
type Params struct {
	TopN      int     `yaml:"top_n" toml:"top_n"`
	Tolerance float64 `yaml:"tolerance" toml:"tolerance"`
	Normalize bool    `yaml:"normalize" toml:"normalize"`
	// Gaussian selects the smooth tolerance window over the flat one.
	Gaussian bool        `yaml:"gaussian" toml:"gaussian"`
	Domain   Domain      `yaml:"domain" toml:"domain"`
	Backend  BackendKind `yaml:"backend" toml:"backend"`
	Density  Density     `yaml:"density" toml:"density"`
	// BatchSize is the number of queries scored per product; 0 or 1 scores
	// one query at a time.
	BatchSize int `yaml:"batch_size" toml:"batch_size"`
	// Threads bounds CPU parallelism; 0 uses GOMAXPROCS.
	Threads int `yaml:"threads" toml:"threads"`
	// ProgressEvery logs progress every k batches; 0 is silent.
	ProgressEvery int `yaml:"progress_every" toml:"progress_every"`
}

func DefaultParams() Params {
	return Params{
		TopN:      20,
		Tolerance: 0.02,
		Normalize: true,
		Gaussian:  true,
		BatchSize: 100,
	}
}

func (p Params) batchSize() int {
	if p.BatchSize < 1 {
		return 1
	}
	return p.BatchSize
}

func (p Params) threads() int {
	if p.Threads < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return p.Threads
}

func (p Params) Method() string {
	return fmt.Sprintf("%s/%s/%s/b%d", p.Backend, p.Domain, p.Density, p.batchSize())
}

// Settings is the on-disk form of an engine configuration plus default
// search parameters.
type Settings struct {
	Engine Config `yaml:"engine" toml:"engine"`
	Search Params `yaml:"search" toml:"search"`
}

func DefaultSettings() Settings {
	return Settings{Engine: DefaultConfig(), Search: DefaultParams()}
}

// LoadSettings reads a YAML (.yaml, .yml) or TOML (.toml) file over the
// defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&s)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&s); errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		return s, fmt.Errorf("settings %s: unsupported extension %q", path, filepath.Ext(path))
	}
	if err != nil {
		return s, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, s.Engine.Validate()
}
