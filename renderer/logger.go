// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards all records. Enabled reports false so that callers
// skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the logger used by the renderer, the engines and the
// sorter. By default nothing is logged. Passing nil restores that.
//
// Levels:
//   - [slog.LevelDebug]: buffer sizes, workgroup counts, executed commands
//   - [slog.LevelInfo]: pipeline creation
//   - [slog.LevelWarn]: inputs that were adjusted to be usable
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger. It is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
