//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package rtframe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func wrapErrno(op string, errno error) error {
	return &net.OpError{Op: op, Net: "tcp", Err: os.NewSyscallError(op, errno)}
}

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		// name describes the case.
		name string

		// err is the dial error.
		err error

		// want is the expected taxonomy sentinel, nil for nil.
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "refused", err: wrapErrno("dial", unix.ECONNREFUSED), want: ErrConnectionRefused},
		{name: "errno timeout", err: wrapErrno("dial", unix.ETIMEDOUT), want: ErrConnectTimeout},
		{name: "context deadline", err: fmt.Errorf("dial: %w", context.DeadlineExceeded), want: ErrConnectTimeout},
		{name: "unreachable", err: wrapErrno("dial", unix.EHOSTUNREACH), want: ErrChannelIO},
		{name: "generic", err: errors.New("mystery"), want: ErrChannelIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyConnectError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyChannelError(t *testing.T) {
	tests := []struct {
		// name describes the case.
		name string

		// err is the error returned by the channel.
		err error

		// want is the expected taxonomy sentinel.
		want error

		// fault is the expected faultKind label.
		fault string
	}{
		{name: "reset", err: wrapErrno("read", unix.ECONNRESET), want: ErrConnectionClosed, fault: "ConnectionClosedByPeer"},
		{name: "aborted", err: wrapErrno("read", unix.ECONNABORTED), want: ErrConnectionClosed, fault: "ConnectionClosedByPeer"},
		{name: "closed", err: fmt.Errorf("read: %w", net.ErrClosed), want: ErrConnectionClosed, fault: "ConnectionClosedByPeer"},
		{name: "udp refused", err: wrapErrno("read", unix.ECONNREFUSED), want: ErrConnectionRefused, fault: "ConnectionRefused"},
		{name: "truncated passes through", err: fmt.Errorf("%w: %w", ErrTruncatedFrame, io.ErrUnexpectedEOF), want: ErrTruncatedFrame, fault: "TruncatedFrame"},
		{name: "cancelled passes through", err: context.Canceled, want: context.Canceled},
		{name: "deadline", err: fmt.Errorf("read: %w", os.ErrDeadlineExceeded), want: ErrChannelIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyChannelError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			if tt.fault != "" {
				assert.Equal(t, tt.fault, faultKind(got))
			}
		})
	}
}

func TestFaultPredicates(t *testing.T) {
	assert.True(t, isConnRefused(wrapErrno("dial", unix.ECONNREFUSED)))
	assert.True(t, isConnReset(wrapErrno("read", unix.ECONNRESET)))
	assert.True(t, isConnReset(wrapErrno("read", unix.ECONNABORTED)))
	assert.True(t, isTimeout(wrapErrno("dial", unix.ETIMEDOUT)))
	assert.True(t, isTimeout(fmt.Errorf("read: %w", os.ErrDeadlineExceeded)))

	for _, err := range []error{nil, errors.New("mystery"), context.Canceled} {
		assert.False(t, isConnRefused(err))
		assert.False(t, isConnReset(err))
		assert.False(t, isTimeout(err))
	}
}
