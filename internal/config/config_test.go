package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/config"
	"codeberg.org/mutker/eegstreamd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	configPath := filepath.Join(tempDir, "eegstreamd.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
sample_rate = 500
num_channels = 4
target_output_rate = 25
transmission_buffer_capacity = 32
max_packet_size = 8000
peer_address = "10.0.0.2:7000"
listen_address = "0.0.0.0:7001"
feature_window = 128
status_interval = "2s"
compression_level = 9
log_level = "debug"
metrics = true
metrics_db = "/tmp/eeg.db"
`)
	t.Setenv("EEGSTREAMD_CONFIG", configPath)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 500.0, cfg.SampleRate)
	assert.Equal(t, 4, cfg.NumChannels)
	assert.Equal(t, 25.0, cfg.TargetOutputRate)
	assert.Equal(t, 32, cfg.TransmissionBufferCapacity)
	assert.Equal(t, 8000, cfg.MaxPacketSize)
	assert.Equal(t, "10.0.0.2:7000", cfg.PeerAddress)
	assert.Equal(t, "0.0.0.0:7001", cfg.ListenAddress)
	assert.Equal(t, 128, cfg.FeatureWindow)
	assert.Equal(t, 2*time.Second, cfg.StatusInterval)
	assert.Equal(t, 9, cfg.CompressionLevel)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, "/tmp/eeg.db", cfg.MetricsDB)
	assert.Equal(t, 40*time.Millisecond, cfg.FlushInterval())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EEGSTREAMD_CONFIG", "")

	cfg, err := config.Load(nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultSampleRate, cfg.SampleRate)
	assert.Equal(t, config.DefaultNumChannels, cfg.NumChannels)
	assert.Equal(t, config.DefaultTargetOutputRate, cfg.TargetOutputRate)
	assert.Equal(t, 0, cfg.TransmissionBufferCapacity)
	assert.Equal(t, config.DefaultMaxPacketSize, cfg.MaxPacketSize)
	assert.Equal(t, config.DefaultPeerAddress, cfg.PeerAddress)
	assert.Equal(t, config.DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, config.DefaultStatusInterval, cfg.StatusInterval)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, 2500, cfg.RawBufferCapacity())
}

func TestFlagsOverrideFile(t *testing.T) {
	configPath := writeConfig(t, `
num_channels = 4
log_level = "error"
`)

	cfg, err := config.Load(
		[]string{"--channels", "16", "--peer", "192.168.1.5:9000"},
		config.WithConfigFile(configPath),
	)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.NumChannels)
	assert.Equal(t, "192.168.1.5:9000", cfg.PeerAddress)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("EEGSTREAMD_CONFIG", configPath)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "invalid"
`)
	t.Setenv("EEGSTREAMD_CONFIG", configPath)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			SampleRate:       250,
			NumChannels:      8,
			TargetOutputRate: 30,
			MaxPacketSize:    1400,
			PeerAddress:      "127.0.0.1:8888",
			ListenAddress:    "127.0.0.1:9999",
			FeatureWindow:    256,
			RawBufferSeconds: 10,
			StatusInterval:   time.Second,
			CompressionLevel: 6,
			LogLevel:         "info",
		}
	}

	valid := base()
	require.NoError(t, valid.Validate())

	largest := base()
	largest.MaxPacketSize = config.MaxDatagramSize
	require.NoError(t, largest.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"zero channels", func(c *config.Config) { c.NumChannels = 0 }, "num_channels"},
		{"sample rate too high", func(c *config.Config) { c.SampleRate = 20000 }, "sample_rate"},
		{"oversized packets", func(c *config.Config) { c.MaxPacketSize = 70000 }, "max_packet_size"},
		{"one past datagram limit", func(c *config.Config) { c.MaxPacketSize = config.MaxDatagramSize + 1 }, "max_packet_size"},
		{"peer without port", func(c *config.Config) { c.PeerAddress = "localhost" }, "peer_address"},
		{"compression out of range", func(c *config.Config) { c.CompressionLevel = 0 }, "compression_level"},
		{"metrics without db", func(c *config.Config) { c.Metrics = true; c.MetricsDB = "" }, "metrics_db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
