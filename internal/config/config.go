// Package config loads the small YAML configuration file shared by the
// cmd/thp-hostsim and cmd/thp-devicesim binaries,
// grounded in the teacher's own direwolf.conf parsing (src/config.go) but
// expressed as a plain struct decoded by yaml.Unmarshal rather than a
// hand-rolled line parser — THP's configuration surface is far smaller
// than Dire Wolf's modem/channel configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Transport names one of the transports named in the protocol's scope.
type Transport string

const (
	TransportUSBHID      Transport = "usb-hid"
	TransportBLE         Transport = "ble"
	TransportUDP         Transport = "udp"
	TransportSerial      Transport = "serial"
	TransportPtyLoopback Transport = "pty-loopback"
)

// Config is the top-level configuration file shape.
type Config struct {
	// Transport names a thp/transport/* adapter. No binary reads it yet:
	// thp-hostsim and thp-devicesim always use udploop.
	Transport Transport `yaml:"transport"`

	// Address is interpreted per Transport: host:port for udp, a device
	// node for serial, empty for pty-loopback.
	Address string `yaml:"address"`

	// PacketSize is the fixed transport packet size in bytes (spec.md's
	// "fixed-size transport packets").
	PacketSize int `yaml:"packet_size"`

	// RetransmitTimeoutMillis bounds how long an owner loop waits for an
	// ACK before re-sending the whole message from its first fragment
	// (spec.md §5's "owner policy").
	RetransmitTimeoutMillis int `yaml:"retransmit_timeout_millis"`

	// TrustAnchorFile names a file of pinned device static public keys
	// (one 64-char hex key per line), consulted by VerifyStaticKey.
	TrustAnchorFile string `yaml:"trust_anchor_file"`

	// LogLevel is one of debug/info/warn/error, passed to charmbracelet/log.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr, if set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config with reasonable values for local development
// over the pty loopback transport.
func Default() Config {
	return Config{
		Transport:               TransportPtyLoopback,
		PacketSize:              64,
		RetransmitTimeoutMillis: 500,
		LogLevel:                "info",
	}
}

// Load reads and parses path, starting from Default() so a partial file
// only overrides the fields it mentions.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
