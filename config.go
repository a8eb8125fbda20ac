// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"net"
	"time"
)

// PacketListener abstracts the [*net.ListenConfig] behavior.
//
// The [*Session] uses it to open the latency channel.
type PacketListener interface {
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// Config holds the dependencies shared by the components of this package.
//
// All fields have sensible defaults set by [NewConfig]. Tests replace
// them with stubs to avoid touching the network or the clock.
type Config struct {
	// Dialer opens the frame channel (see [*ConnectFunc]).
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// PacketListener opens the latency channel.
	//
	// Set by [NewConfig] to [*net.ListenConfig].
	PacketListener PacketListener

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:         &net.Dialer{},
		PacketListener: &net.ListenConfig{},
		ErrClassifier:  DefaultErrClassifier,
		TimeNow:        time.Now,
	}
}
