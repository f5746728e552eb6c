// Package wconfig defines the typed configuration surface for a mirage
// host or client process and loads it from TOML. Grounded on the
// teacher's node/service configuration files, which load their own typed
// structs via github.com/BurntSushi/toml.
package wconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration file shape.
type Config struct {
	Logging Logging        `toml:"logging"`
	Network Network        `toml:"network"`
	Stream  StreamDefaults `toml:"stream"`
	Metrics Metrics        `toml:"metrics"`
}

// Logging controls the ambient logger's verbosity. File is parsed but not
// read by miraged, which always logs to stderr.
type Logging struct {
	Level string `toml:"level"` // debug, info, warn, error
	File  string `toml:"file"`
}

// Network carries the transport's listen/dial configuration.
type Network struct {
	ListenAddr        string `toml:"listen_addr"`
	MaxPacketSize     int    `toml:"max_packet_size"`
	RegistrationToken string `toml:"-"` // never persisted to disk
}

// StreamDefaults seeds new streams' starting configuration.
type StreamDefaults struct {
	FrameRate        int     `toml:"frame_rate"`
	BitrateBps       int     `toml:"bitrate_bps"`
	KeyFrameInterval int     `toml:"key_frame_interval"`
	StreamScale      float64 `toml:"stream_scale"`
	Uncapped         bool    `toml:"uncapped"`
	MediaEncryption  bool    `toml:"media_encryption"`
}

// Metrics controls the prometheus exposition endpoint.
type Metrics struct {
	ListenAddr string `toml:"listen_addr"`
	Enabled    bool   `toml:"enabled"`
}

// Default returns a Config populated with the spec's documented defaults.
func Default() Config {
	return Config{
		Logging: Logging{Level: "info"},
		Network: Network{MaxPacketSize: 1200},
		Stream: StreamDefaults{
			FrameRate:        60,
			BitrateBps:       10_000_000,
			KeyFrameInterval: 120,
			StreamScale:      1.0,
			MediaEncryption:  true,
		},
		Metrics: Metrics{ListenAddr: "127.0.0.1:9090", Enabled: true},
	}
}

// Load reads and parses a TOML config file at path, starting from
// Default() so that omitted sections keep their documented defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("wconfig: decode %s: %w", path, err)
	}
	return cfg, nil
}

// LoadBytes parses TOML config from an in-memory byte slice, starting from
// Default(); used by tests that avoid touching the filesystem.
func LoadBytes(b []byte) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(b), &cfg); err != nil {
		return Config{}, fmt.Errorf("wconfig: decode: %w", err)
	}
	return cfg, nil
}

// Validate reports a descriptive error for any configuration value the
// rest of the module cannot operate on.
func (c Config) Validate() error {
	if c.Network.MaxPacketSize <= 61 {
		return fmt.Errorf("wconfig: MaxPacketSize %d must exceed the 61-byte header", c.Network.MaxPacketSize)
	}
	if c.Stream.FrameRate <= 0 {
		return fmt.Errorf("wconfig: FrameRate must be positive, got %d", c.Stream.FrameRate)
	}
	if c.Stream.StreamScale <= 0 || c.Stream.StreamScale > 1.0 {
		return fmt.Errorf("wconfig: StreamScale must be in (0, 1.0], got %v", c.Stream.StreamScale)
	}
	return nil
}
