// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)

	_, ok := cfg.Dialer.(*net.Dialer)
	assert.True(t, ok, "Dialer should be *net.Dialer")

	_, ok = cfg.PacketListener.(*net.ListenConfig)
	assert.True(t, ok, "PacketListener should be *net.ListenConfig")

	assert.Equal(t, "", cfg.ErrClassifier.Classify(nil))

	now := cfg.TimeNow()
	assert.False(t, now.IsZero())
}
