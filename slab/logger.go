package slab

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// LogLevel represents the logging level
type LogLevel int32

const (
	// LogLevelNone disables all logging
	LogLevelNone LogLevel = iota
	// LogLevelFatal enables fatal logging
	LogLevelFatal
	// LogLevelError enables error logging
	LogLevelError
	// LogLevelInfo enables info and error logging
	LogLevelInfo
	// LogLevelDebug enables all logging
	LogLevelDebug
)

// level gates both sinks; adjustable at runtime through SetLogLevel.
var level atomic.Int32

// One sink per stream; the severity tag is prepended per call.
var (
	outSink = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	errSink = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
)

func init() {
	level.Store(int32(LogLevelError))
}

// SetLogLevel adjusts the package log level.
func SetLogLevel(l LogLevel) {
	level.Store(int32(l))
}

func logf(l LogLevel, tag, format string, v ...interface{}) {
	if LogLevel(level.Load()) < l {
		return
	}
	sink := outSink
	if l <= LogLevelError {
		sink = errSink
	}
	sink.Output(3, tag+" "+fmt.Sprintf(format, v...))
}

// Debug logs allocator internals
func Debug(format string, v ...interface{}) {
	logf(LogLevelDebug, "[DEBUG]", format, v...)
}

// Info logs lifecycle information
func Info(format string, v ...interface{}) {
	logf(LogLevelInfo, "[Info]", format, v...)
}

// Error logs recoverable allocator errors
func Error(format string, v ...interface{}) {
	logf(LogLevelError, "[ERROR]", format, v...)
}

// Fatal logs an invariant violation and terminates the process
func Fatal(format string, v ...interface{}) {
	logf(LogLevelFatal, "[FATAL]", format, v...)
	os.Exit(1)
}
