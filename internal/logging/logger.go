// Package logging provides structured logging for the etherlink server
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with channel and connection fields
type Logger struct {
	zlog    zerolog.Logger
	channel string
	async   *asyncWriter
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool // If true, disables ANSI color codes (useful for testing)
}

// ParseLevel maps "debug", "info", "warn" and "error" to a LogLevel
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter hands log lines to a background goroutine so the poll loops
// never block on stderr. Lines are dropped, and counted, when the queue is full.
type asyncWriter struct {
	out     io.Writer
	ch      chan []byte
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

func newAsyncWriter(w io.Writer, queueLen int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, queueLen),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for line := range aw.ch {
		aw.out.Write(line)
	}
}

func (aw *asyncWriter) Write(p []byte) (int, error) {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		return 0, io.ErrClosedPipe
	}

	// zerolog reuses p after Write returns
	line := append([]byte(nil), p...)
	select {
	case aw.ch <- line:
	default:
		aw.dropped.Add(1)
	}
	return len(p), nil
}

// Close drains queued lines and stops the writer goroutine
func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	// Use async writer unless Sync mode is enabled
	var output io.Writer = config.Output
	var async *asyncWriter
	if !config.Sync {
		async = newAsyncWriter(config.Output, 1000)
		output = async
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(output).With().Timestamp().Logger()
	default:
		// Console format (colors can be disabled via config)
		consoleWriter := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{
		zlog:  zlog,
		async: async,
	}
}

// Close flushes an asynchronous logger. Derived loggers share the writer.
func (l *Logger) Close() error {
	if l.async == nil {
		return nil
	}
	return l.async.Close()
}

// Dropped returns how many lines the asynchronous writer discarded
func (l *Logger) Dropped() uint64 {
	if l.async == nil {
		return 0
	}
	return l.async.dropped.Load()
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithChannel returns a logger with channel context ("h2t", "t2h", "mgmt", "mgmt_rsp")
func (l *Logger) WithChannel(name string) *Logger {
	return &Logger{
		zlog:    l.zlog.With().Str("channel", name).Logger(),
		channel: name,
		async:   l.async,
	}
}

// WithConn returns a logger with client connection context
func (l *Logger) WithConn(remote string) *Logger {
	return &Logger{
		zlog:    l.zlog.With().Str("conn", remote).Logger(),
		channel: l.channel,
		async:   l.async,
	}
}

// WithTransfer returns a logger with descriptor context
func (l *Logger) WithTransfer(addr uint32, length int) *Logger {
	return &Logger{
		zlog:    l.zlog.With().Str("addr", "0x"+strconv.FormatUint(uint64(addr), 16)).Int("len", length).Logger(),
		channel: l.channel,
		async:   l.async,
	}
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:    l.zlog.With().Err(err).Logger(),
		channel: l.channel,
		async:   l.async,
	}
}

// Channel returns the channel name attached with WithChannel, if any
func (l *Logger) Channel() string {
	return l.channel
}

// Standard logging methods
func (l *Logger) Debug(msg string, args ...any) {
	l.emit(l.zlog.Debug(), msg, args)
}

func (l *Logger) Info(msg string, args ...any) {
	l.emit(l.zlog.Info(), msg, args)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.emit(l.zlog.Warn(), msg, args)
}

func (l *Logger) Error(msg string, args ...any) {
	l.emit(l.zlog.Error(), msg, args)
}

// emit attaches alternating key/value args to the event
func (l *Logger) emit(event *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if err, isErr := args[i+1].(error); isErr {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	event.Msg(msg)
}

// Package-level helpers log through Default().
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
