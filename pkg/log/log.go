// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package log provides a trivial leveled logging facility for the kernel
// packages. A single global logger is shared by all components; the
// emitter and level may be swapped at runtime.
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// Level is the log level.
type Level uint32

const (
	// Warning indicates a problem that the kernel can survive.
	Warning Level = iota

	// Info is informational output.
	Info

	// Debug is verbose tracing, normally off.
	Debug
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Warning:
		return "W"
	case Info:
		return "I"
	case Debug:
		return "D"
	default:
		return fmt.Sprintf("L(%d)", uint32(l))
	}
}

// Emitter is the final destination for log lines.
type Emitter interface {
	// Emit emits the given log statement. depth is the distance in the
	// call stack from Emit to the logging call site.
	Emit(depth int, level Level, timestamp time.Time, format string, v ...any)
}

// Writer writes log lines to an io.Writer, dropping output on error.
type Writer struct {
	Next io.Writer
}

// Write implements io.Writer.
func (l *Writer) Write(data []byte) (int, error) {
	n, err := l.Next.Write(data)
	if err != nil {
		// There is nothing useful to do with a log write error.
		return len(data), nil
	}
	return n, nil
}

// TextEmitter logs messages as plain text lines.
type TextEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e TextEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	line := fmt.Sprintf(format, v...)
	if _, file, lineno, ok := runtime.Caller(depth + 1); ok {
		if slash := strings.LastIndexByte(file, byte('/')); slash >= 0 {
			file = file[slash+1:]
		}
		line = fmt.Sprintf("%s %s %s:%d] %s\n", level, timestamp.Format(time.StampMicro), file, lineno, line)
	} else {
		line = fmt.Sprintf("%s %s ???] %s\n", level, timestamp.Format(time.StampMicro), line)
	}
	e.Writer.Write([]byte(line))
}

// BasicLogger is the logger used by the package-level functions.
type BasicLogger struct {
	Level
	Emitter
}

// Debugf logs at the Debug level.
func (l *BasicLogger) Debugf(format string, v ...any) {
	l.DebugfAtDepth(1, format, v...)
}

// Infof logs at the Info level.
func (l *BasicLogger) Infof(format string, v ...any) {
	l.InfofAtDepth(1, format, v...)
}

// Warningf logs at the Warning level.
func (l *BasicLogger) Warningf(format string, v ...any) {
	l.WarningfAtDepth(1, format, v...)
}

// DebugfAtDepth logs at a specific depth.
func (l *BasicLogger) DebugfAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Debug) {
		l.Emit(depth+1, Debug, time.Now(), format, v...)
	}
}

// InfofAtDepth logs at a specific depth.
func (l *BasicLogger) InfofAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Info) {
		l.Emit(depth+1, Info, time.Now(), format, v...)
	}
}

// WarningfAtDepth logs at a specific depth.
func (l *BasicLogger) WarningfAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Warning) {
		l.Emit(depth+1, Warning, time.Now(), format, v...)
	}
}

// IsLogging returns whether the given level is being logged.
func (l *BasicLogger) IsLogging(level Level) bool {
	return level <= l.Level
}

var logger atomic.Pointer[BasicLogger]

func init() {
	SetTarget(TextEmitter{&Writer{Next: os.Stderr}})
}

// Log returns the global logger.
func Log() *BasicLogger {
	return logger.Load()
}

// SetTarget installs a new emitter, preserving the current level.
func SetTarget(e Emitter) {
	level := Warning
	if old := logger.Load(); old != nil {
		level = old.Level
	}
	logger.Store(&BasicLogger{Level: level, Emitter: e})
}

// SetLevel sets the log level.
func SetLevel(level Level) {
	old := logger.Load()
	logger.Store(&BasicLogger{Level: level, Emitter: old.Emitter})
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().DebugfAtDepth(1, format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().InfofAtDepth(1, format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().WarningfAtDepth(1, format, v...)
}

// IsLogging returns whether the global logger logs the given level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}
