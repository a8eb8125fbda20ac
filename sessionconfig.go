// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by [SessionConfig.Transport].
const (
	// TransportStream selects the length-prefixed TCP frame channel.
	TransportStream = "tcp"

	// TransportDatagram selects the chunked UDP frame channel.
	TransportDatagram = "udp"
)

// SessionConfig configures a [*Session]. It is copied by
// [*Session.Start] and stays immutable for the lifetime of the session.
//
// The yaml tags allow loading it with [LoadSessionConfig].
type SessionConfig struct {
	// Host is the producer host name or address.
	Host string `yaml:"host"`

	// Transport is [TransportStream] or [TransportDatagram].
	Transport string `yaml:"transport"`

	// FramePort is the producer port of the stream channel.
	FramePort int `yaml:"frame_port"`

	// ChunkPort is the producer port of the datagram channel.
	ChunkPort int `yaml:"chunk_port"`

	// LatencyPort is the producer port of the latency channel. Zero
	// disables latency measurement.
	LatencyPort int `yaml:"latency_port"`

	// MaxFrameSize bounds the declared length of a stream frame.
	MaxFrameSize int `yaml:"max_frame_size"`

	// AutoReconnect enables reconnecting after a fault or a peer close.
	AutoReconnect bool `yaml:"auto_reconnect"`

	// ReconnectDelay is the wait between two connection attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HandoffCapacity is the number of frames the consumer may lag behind.
	HandoffCapacity int `yaml:"handoff_capacity"`

	// RendezvousInterval is how often the rendezvous datagram is re-sent
	// until the producer starts sending chunks.
	RendezvousInterval time.Duration `yaml:"rendezvous_interval"`

	// IdleTimeout is the datagram silence after which the channel is
	// considered faulted. Zero waits forever.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxAssemblyAge bounds how long an incomplete frame is kept.
	MaxAssemblyAge time.Duration `yaml:"max_assembly_age"`

	// MaxAssemblies bounds the number of incomplete frames.
	MaxAssemblies int `yaml:"max_assemblies"`

	// ResyncAfter lets the datagram reassembler accept a restarted frame
	// id sequence after this much silence. Zero disables it.
	ResyncAfter time.Duration `yaml:"resync_after"`

	// StopTimeout bounds how long [*Session.Stop] waits for goroutines.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// SenderTimestamp expects an 8-byte sender timestamp before each
	// stream frame.
	SenderTimestamp bool `yaml:"sender_timestamp"`

	// Preamble expects a field-of-view preamble as the first stream frame.
	Preamble bool `yaml:"preamble"`

	// ProbeInterval is the time between two latency probes.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout is how long a latency probe may stay unanswered.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// LatencyWindow is the number of RTT samples averaged.
	LatencyWindow int `yaml:"latency_window"`

	// DSCP is the differentiated services code point set on the media
	// sockets. Zero leaves the operating system default.
	DSCP int `yaml:"dscp"`
}

// DefaultSessionConfig returns a [SessionConfig] with default values and
// no producer address.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Transport:          TransportStream,
		MaxFrameSize:       DefaultMaxFrameSize,
		AutoReconnect:      true,
		ReconnectDelay:     2 * time.Second,
		ConnectTimeout:     4 * time.Second,
		HandoffCapacity:    1,
		RendezvousInterval: 500 * time.Millisecond,
		IdleTimeout:        5 * time.Second,
		MaxAssemblyAge:     DefaultMaxAssemblyAge,
		MaxAssemblies:      DefaultMaxAssemblies,
		StopTimeout:        2 * time.Second,
		ProbeInterval:      DefaultProbeInterval,
		ProbeTimeout:       DefaultProbeTimeout,
		LatencyWindow:      DefaultLatencyWindow,
	}
}

// Validate returns an error wrapping [ErrInvalidConfig] describing every
// invalid field, or nil.
func (c *SessionConfig) Validate() error {
	var errs []error
	check := func(cond bool, format string, args ...any) {
		if !cond {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Host != "", "host is empty")
	switch c.Transport {
	case TransportStream:
		check(validPort(c.FramePort), "frame_port %d out of range", c.FramePort)
		check(c.MaxFrameSize > 0, "max_frame_size must be positive")
	case TransportDatagram:
		check(validPort(c.ChunkPort), "chunk_port %d out of range", c.ChunkPort)
		check(c.RendezvousInterval > 0, "rendezvous_interval must be positive")
		check(c.IdleTimeout >= 0, "idle_timeout must not be negative")
		check(c.MaxAssemblyAge >= 0, "max_assembly_age must not be negative")
		check(c.MaxAssemblies >= 0, "max_assemblies must not be negative")
	default:
		errs = append(errs, fmt.Errorf("transport %q is neither %q nor %q",
			c.Transport, TransportStream, TransportDatagram))
	}
	check(c.LatencyPort == 0 || validPort(c.LatencyPort), "latency_port %d out of range", c.LatencyPort)
	if c.LatencyPort != 0 {
		check(c.ProbeInterval > 0, "probe_interval must be positive")
		check(c.ProbeTimeout > 0, "probe_timeout must be positive")
	}
	check(c.ConnectTimeout > 0, "connect_timeout must be positive")
	check(c.ReconnectDelay >= 0, "reconnect_delay must not be negative")
	check(c.StopTimeout > 0, "stop_timeout must be positive")
	check(c.DSCP >= 0 && c.DSCP < 64, "dscp %d out of range", c.DSCP)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

// LoadSessionConfig reads a YAML file on top of [DefaultSessionConfig].
// Durations use the [time.ParseDuration] syntax (e.g., "500ms"). The
// result is not validated.
func LoadSessionConfig(path string) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}
