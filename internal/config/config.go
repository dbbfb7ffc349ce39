package config

import (
	"net"
	"os"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultSampleRate       = 250.0
	DefaultNumChannels      = 8
	DefaultTargetOutputRate = 30.0
	DefaultMaxPacketSize    = 1400
	DefaultPeerAddress      = "127.0.0.1:8888"
	DefaultListenAddress    = "127.0.0.1:9999"
	DefaultFeatureWindow    = 256
	DefaultRawBufferSeconds = 10
	DefaultStatusInterval   = 5 * time.Second
	DefaultCompression      = 6
	DefaultLogLevel         = "info"
	DefaultMetricsDB        = "/var/lib/eegstreamd/metrics.db"

	// MaxDatagramSize is the largest payload put on the wire in one datagram.
	MaxDatagramSize = 65000

	configName = "eegstreamd"
)

type Config struct {
	SampleRate                 float64       `mapstructure:"sample_rate"`
	NumChannels                int           `mapstructure:"num_channels"`
	TargetOutputRate           float64       `mapstructure:"target_output_rate"`
	TransmissionBufferCapacity int           `mapstructure:"transmission_buffer_capacity"`
	MaxPacketSize              int           `mapstructure:"max_packet_size"`
	PeerAddress                string        `mapstructure:"peer_address"`
	ListenAddress              string        `mapstructure:"listen_address"`
	FeatureWindow              int           `mapstructure:"feature_window"`
	RawBufferSeconds           int           `mapstructure:"raw_buffer_seconds"`
	StatusInterval             time.Duration `mapstructure:"status_interval"`
	CompressionLevel           int           `mapstructure:"compression_level"`
	LogLevel                   string        `mapstructure:"log_level"`
	Metrics                    bool          `mapstructure:"metrics"`
	MetricsDB                  string        `mapstructure:"metrics_db"`
	PrometheusListen           string        `mapstructure:"prometheus_listen"`
}

// flagBinding maps a command line flag to its configuration key.
type flagBinding struct {
	flag string
	key  string
}

var bindings = []flagBinding{
	{"sample-rate", "sample_rate"},
	{"channels", "num_channels"},
	{"output-rate", "target_output_rate"},
	{"buffer-capacity", "transmission_buffer_capacity"},
	{"max-packet-size", "max_packet_size"},
	{"peer", "peer_address"},
	{"listen", "listen_address"},
	{"feature-window", "feature_window"},
	{"raw-buffer-seconds", "raw_buffer_seconds"},
	{"status-interval", "status_interval"},
	{"compression-level", "compression_level"},
	{"log-level", "log_level"},
	{"metrics", "metrics"},
	{"metrics-db", "metrics_db"},
	{"prometheus-listen", "prometheus_listen"},
}

// Load reads configuration from defaults, the config file, the environment
// and the given command line arguments, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: "EEGSTREAMD"}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	for _, b := range bindings {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.AutomaticEnv()

	configPath := o.configPath
	if path, _ := fs.GetString("config"); path != "" {
		configPath = path
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/eegstreamd")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
		logger.Debug().Msg("No config file found, using defaults")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("eegstreamd", pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML configuration file")
	fs.Float64("sample-rate", DefaultSampleRate, "Acquisition sample rate in Hz")
	fs.Int("channels", DefaultNumChannels, "Number of acquisition channels")
	fs.Float64("output-rate", DefaultTargetOutputRate, "Target transmission rate in Hz")
	fs.Int("buffer-capacity", 0, "Transmission buffer capacity (0 derives it from the rates)")
	fs.Int("max-packet-size", DefaultMaxPacketSize, "Maximum encoded packet size in bytes")
	fs.String("peer", DefaultPeerAddress, "Visualization client address (host:port)")
	fs.String("listen", DefaultListenAddress, "Address to receive client messages on (host:port)")
	fs.Int("feature-window", DefaultFeatureWindow, "Samples per feature window")
	fs.Int("raw-buffer-seconds", DefaultRawBufferSeconds, "Seconds of raw samples kept per channel")
	fs.Duration("status-interval", DefaultStatusInterval, "Interval between status reports")
	fs.Int("compression-level", DefaultCompression, "zlib compression level (1-9)")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("metrics", false, "Record stream metrics to SQLite")
	fs.String("metrics-db", DefaultMetricsDB, "Path to the metrics database")
	fs.String("prometheus-listen", "", "Address to expose Prometheus metrics on (empty disables)")

	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sample_rate", DefaultSampleRate)
	v.SetDefault("num_channels", DefaultNumChannels)
	v.SetDefault("target_output_rate", DefaultTargetOutputRate)
	v.SetDefault("transmission_buffer_capacity", 0)
	v.SetDefault("max_packet_size", DefaultMaxPacketSize)
	v.SetDefault("peer_address", DefaultPeerAddress)
	v.SetDefault("listen_address", DefaultListenAddress)
	v.SetDefault("feature_window", DefaultFeatureWindow)
	v.SetDefault("raw_buffer_seconds", DefaultRawBufferSeconds)
	v.SetDefault("status_interval", DefaultStatusInterval)
	v.SetDefault("compression_level", DefaultCompression)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", DefaultMetricsDB)
	v.SetDefault("prometheus_listen", "")
}

// Validate checks every field and returns the first violation found.
func (c *Config) Validate() error {
	errFactory := errors.New()

	invalid := func(field string, value any, reason string) error {
		return errFactory.WithData(errors.ErrInvalidConfig, ValidationError{
			Field:  field,
			Value:  value,
			Reason: reason,
		})
	}

	if c.SampleRate < 1 || c.SampleRate > 10000 {
		return invalid("sample_rate", c.SampleRate, "must be between 1 and 10000 Hz")
	}
	if c.NumChannels <= 0 {
		return invalid("num_channels", c.NumChannels, "must be positive")
	}
	if c.TargetOutputRate <= 0 {
		return invalid("target_output_rate", c.TargetOutputRate, "must be positive")
	}
	if c.TransmissionBufferCapacity < 0 {
		return invalid("transmission_buffer_capacity", c.TransmissionBufferCapacity, "must not be negative")
	}
	if c.MaxPacketSize <= 0 || c.MaxPacketSize > MaxDatagramSize {
		return invalid("max_packet_size", c.MaxPacketSize, "must be between 1 and 65000")
	}
	if _, _, err := net.SplitHostPort(c.PeerAddress); err != nil {
		return invalid("peer_address", c.PeerAddress, err.Error())
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return invalid("listen_address", c.ListenAddress, err.Error())
	}
	if c.FeatureWindow < 2 {
		return invalid("feature_window", c.FeatureWindow, "must be at least 2")
	}
	if c.RawBufferSeconds <= 0 {
		return invalid("raw_buffer_seconds", c.RawBufferSeconds, "must be positive")
	}
	if c.StatusInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, ValidationError{
			Field:  "status_interval",
			Value:  c.StatusInterval,
			Reason: "must be positive",
		})
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		return invalid("compression_level", c.CompressionLevel, "must be between 1 and 9")
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Metrics && c.MetricsDB == "" {
		return invalid("metrics_db", c.MetricsDB, "required when metrics are enabled")
	}

	return nil
}

// RawBufferCapacity is the number of raw samples kept per channel.
func (c *Config) RawBufferCapacity() int {
	return int(c.SampleRate) * c.RawBufferSeconds
}

// FlushInterval is the target time between transmissions.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.TargetOutputRate)
}
