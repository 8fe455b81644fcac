package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Thin component-logger facade over zerolog: call sites say
// logger.InfoCF("gateway", "connected", fields) and the backend takes care of
// structure, level filtering and sinks.

var (
	mu   sync.RWMutex
	root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
	file *os.File
)

type LogLevel = zerolog.Level

const (
	DEBUG = zerolog.DebugLevel
	INFO  = zerolog.InfoLevel
	WARN  = zerolog.WarnLevel
	ERROR = zerolog.ErrorLevel
	FATAL = zerolog.FatalLevel
)

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	root = root.Level(level)
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// EnableFileLogging mirrors console output into a JSON log file.
func EnableFileLogging(filePath string) error {
	mu.Lock()
	defer mu.Unlock()

	if strings.HasPrefix(filePath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			filePath = filepath.Join(home, filePath[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if file != nil {
		file.Close()
	}
	file = f

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	root = zerolog.New(io.MultiWriter(console, f)).With().Timestamp().Logger().Level(root.GetLevel())
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
	}
	root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(root.GetLevel())
}

func logEvent(e *zerolog.Event, component, message string, fields map[string]interface{}) {
	if component != "" {
		e = e.Str("component", component)
	}
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(message)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// logAt binds a snapshot of the root logger to a local before calling the
// level method: zerolog's level methods take a pointer receiver.
func logAt(level LogLevel, component, message string, fields map[string]interface{}) {
	l := current()
	var e *zerolog.Event
	switch level {
	case DEBUG:
		e = l.Debug()
	case WARN:
		e = l.Warn()
	case ERROR:
		e = l.Error()
	case FATAL:
		e = l.Fatal()
	default:
		e = l.Info()
	}
	logEvent(e, component, message, fields)
}

func Debug(message string) { logAt(DEBUG, "", message, nil) }
func Info(message string)  { logAt(INFO, "", message, nil) }
func Warn(message string)  { logAt(WARN, "", message, nil) }
func Error(message string) { logAt(ERROR, "", message, nil) }
func Fatal(message string) { logAt(FATAL, "", message, nil) }

func DebugC(component, message string) { logAt(DEBUG, component, message, nil) }
func InfoC(component, message string)  { logAt(INFO, component, message, nil) }
func WarnC(component, message string)  { logAt(WARN, component, message, nil) }
func ErrorC(component, message string) { logAt(ERROR, component, message, nil) }
func FatalC(component, message string) { logAt(FATAL, component, message, nil) }

func DebugF(message string, fields map[string]interface{}) { logAt(DEBUG, "", message, fields) }
func InfoF(message string, fields map[string]interface{})  { logAt(INFO, "", message, fields) }
func WarnF(message string, fields map[string]interface{})  { logAt(WARN, "", message, fields) }
func ErrorF(message string, fields map[string]interface{}) { logAt(ERROR, "", message, fields) }

func DebugCF(component, message string, fields map[string]interface{}) {
	logAt(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logAt(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logAt(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logAt(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]interface{}) {
	logAt(FATAL, component, message, fields)
}
