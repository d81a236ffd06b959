// SPDX-License-Identifier: MIT
//
// Package log is the engine's leveled logger. The tick loop, the idle driver
// and the transports share one process-wide level; hot paths log through the
// keyed, rate-limited variants so a failure repeating every tick costs one
// line per interval.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LogLevel is the severity of a message.
type LogLevel uint32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// DefaultInterval is the usual spacing of repeated hot-path messages.
const DefaultInterval = 5 * time.Second

var levelNames = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// ParseLevel maps a case-insensitive name to a level. Unknown names yield
// LevelInfo and false.
func ParseLevel(name string) (LogLevel, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "WARNING" {
		return LevelWarn, true
	}
	for l, n := range levelNames {
		if n == name {
			return LogLevel(l), true
		}
	}
	return LevelInfo, false
}

var (
	level  atomic.Uint32
	logger = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

	limitersMu sync.Mutex
	limiters   = make(map[string]*rate.Sometimes)
)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the process-wide level.
func SetLevel(l LogLevel) { level.Store(uint32(l)) }

// GetLevel returns the process-wide level.
func GetLevel() LogLevel { return LogLevel(level.Load()) }

// SetOutput redirects log output; tests use it to capture or silence logs.
func SetOutput(w io.Writer) { logger.SetOutput(w) }

func shouldLog(l LogLevel) bool { return l >= GetLevel() }

// emit writes one line tagged with l. Tags are padded to a common width so
// messages line up.
func emit(l LogLevel, msg string) {
	logger.Printf("%-7s %s", "["+l.String()+"]", msg)
}

func logf(l LogLevel, format string, v ...any) {
	if shouldLog(l) {
		emit(l, fmt.Sprintf(format, v...))
	}
}

func Debugf(format string, v ...any) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(LevelError, format, v...) }

// Fatalf logs regardless of level and exits with status 1.
func Fatalf(format string, v ...any) {
	emit(LevelFatal, fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Every runs fn at most once per interval for key. The first call for a key
// always runs.
func Every(key string, interval time.Duration, fn func()) {
	limitersMu.Lock()
	s, ok := limiters[key]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: interval}
		limiters[key] = s
	}
	limitersMu.Unlock()
	s.Do(fn)
}

// everyf is logf limited per key. The level check comes first so a
// suppressed level does not consume the key's slot.
func everyf(l LogLevel, key string, interval time.Duration, format string, v ...any) {
	if !shouldLog(l) {
		return
	}
	Every(key, interval, func() { emit(l, fmt.Sprintf(format, v...)) })
}

func Debugfr(key string, interval time.Duration, format string, v ...any) {
	everyf(LevelDebug, key, interval, format, v...)
}

func Warnfr(key string, interval time.Duration, format string, v ...any) {
	everyf(LevelWarn, key, interval, format, v...)
}

func Errorfr(key string, interval time.Duration, format string, v ...any) {
	everyf(LevelError, key, interval, format, v...)
}
