package cvs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSettingsYAML(t *testing.T) {
	path := writeFile(t, "cvs.yaml", `
engine:
  space:
    bin_width: 0.02
    bin_count: 5000
  accuracy: 500
  device:
    name: gpu0
    memory_mb: 128
search:
  top_n: 7
  tolerance: 0.05
  domain: int32
  backend: accelerator
  density: dense
  batch_size: 16
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, EncodingSpace{BinWidth: 0.02, BinCount: 5000}, s.Engine.Space)
	assert.Equal(t, int32(500), s.Engine.Accuracy)
	assert.Equal(t, "gpu0", s.Engine.Device.Name)
	assert.Equal(t, int64(128), s.Engine.Device.MemoryMB)
	assert.Equal(t, 7, s.Search.TopN)
	assert.Equal(t, FixedPoint, s.Search.Domain)
	assert.Equal(t, Accelerator, s.Search.Backend)
	assert.Equal(t, Dense, s.Search.Density)
	assert.Equal(t, 16, s.Search.BatchSize)
	// Unset fields keep their defaults.
	assert.True(t, s.Search.Gaussian)
	assert.True(t, s.Search.Normalize)
	assert.Equal(t, DefaultConfig().Device.ComputeUnits, s.Engine.Device.ComputeUnits)
	assert.Equal(t, "accelerator/int32/dense/b16", s.Search.Method())
}

func TestLoadSettingsTOML(t *testing.T) {
	path := writeFile(t, "cvs.toml", `
[engine.space]
bin_width = 0.01
bin_count = 2000

[search]
top_n = 3
gaussian = false
backend = "cpu"
threads = 2
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, s.Engine.Space.BinCount)
	assert.Equal(t, 3, s.Search.TopN)
	assert.False(t, s.Search.Gaussian)
	assert.Equal(t, CPU, s.Search.Backend)
	assert.Equal(t, 2, s.Search.Threads)
}

func TestLoadSettingsErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		file, body string
	}{
		"unknown yaml field": {"a.yaml", "search:\n  top_k: 3\n"},
		"unknown toml field": {"a.toml", "[search]\ntop_k = 3\n"},
		"bad enum":           {"a.yaml", "search:\n  domain: float64\n"},
		"bad extension":      {"a.json", "{}"},
		"invalid engine":     {"a.toml", "[engine]\naccuracy = 0\n"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSettings(writeFile(t, tc.file, tc.body))
			assert.Error(t, err)
		})
	}
	_, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	s, err := LoadSettings(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.Search.Domain = FixedPoint
	s.Search.Density = Dense

	data, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), "domain: int32")
	path := writeFile(t, "out.yaml", string(data))
	back, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, s, back)

	data, err = toml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dense")
	path = writeFile(t, "out.toml", string(data))
	back, err = LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestEnumText(t *testing.T) {
	var d Domain
	require.NoError(t, d.UnmarshalText([]byte(" INT32 ")))
	assert.Equal(t, FixedPoint, d)
	assert.ErrorIs(t, d.UnmarshalText([]byte("f16")), ErrInvalidArgument)
	assert.Equal(t, "unknown(7)", Domain(7).String())

	var b BackendKind
	require.NoError(t, b.UnmarshalText([]byte("accelerator")))
	assert.Equal(t, "accelerator", b.String())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.Accuracy = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidArgument)
	c.Accuracy = maxAccuracy
	assert.NoError(t, c.Validate())
	c.Accuracy = 50000
	assert.ErrorIs(t, c.Validate(), ErrInvalidArgument)
	c = DefaultConfig()
	c.Device.MemoryMB = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidArgument)
	c = DefaultConfig()
	c.Space.BinCount = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidArgument)

	_, err := NewEngine(c)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
