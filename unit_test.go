// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Unit feeds the first step of a pipeline.
func TestUnit(t *testing.T) {
	fn := FuncAdapter[Unit, string](func(ctx context.Context, _ Unit) (string, error) {
		return "ok", nil
	})
	result, err := fn.Call(context.Background(), Unit{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}
