// SPDX-License-Identifier: GPL-3.0-or-later

package rtframe

import (
	"log/slog"

	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// A span is a sequence of operations that can fail in a single way. In
// this package each connection attempt is a span: connect, receive and
// close events of the same attempt share its span ID.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

// WithSpanID returns an [SLogger] adding a spanID field to every event.
//
// The field is added to each record rather than attached with
// [*slog.Logger.With], so that handlers see it as a record attribute.
func WithSpanID(logger SLogger, spanID string) SLogger {
	return &spanLogger{logger: logger, attr: slog.String("spanID", spanID)}
}

// spanLogger appends a fixed attribute to each event.
type spanLogger struct {
	logger SLogger
	attr   slog.Attr
}

// Debug implements [SLogger].
func (l *spanLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, append(args, l.attr)...)
}

// Info implements [SLogger].
func (l *spanLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, append(args, l.attr)...)
}
