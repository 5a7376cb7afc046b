// Custom logger with level
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	FATAL LogLevel = iota // 0
	ERROR                 // 1
	WARN                  // 2
	INFO                  // 3
	DEBUG                 // 4
)

// String implements the fmt.Stringer interface for LogLevel.
func (l LogLevel) String() string {
	switch l {
	case FATAL:
		return "FATAL"
	case ERROR:
		return "ERROR"
	case WARN:
		return "WARN"
	case INFO:
		return "INFO"
	case DEBUG:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name (case insensitive) to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FATAL":
		return FATAL, nil
	case "ERROR":
		return ERROR, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "INFO":
		return INFO, nil
	case "DEBUG":
		return DEBUG, nil
	}
	return WARN, fmt.Errorf("unknown log level %q", s)
}

// Default log level we start with for filtering
var (
	mu              sync.RWMutex
	currentLogLevel LogLevel = WARN
	projectRoot     string

	// exit is swapped out by tests so Fatal can be observed.
	exit = os.Exit
)

func init() {
	// Find project root once at startup by looking for go.mod.
	dir, err := os.Getwd()
	if err != nil {
		// Fall back to the full path in the log message.
		return
	}

	// Walk up the directory tree from the current working directory.
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			projectRoot = dir
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}

// SetLogLevel allows external packages to change the log level filter.
func SetLogLevel(level LogLevel) {
	mu.Lock()
	currentLogLevel = level
	mu.Unlock()
}

// Level returns the active filter level.
func Level() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLogLevel
}

// SetOutput redirects log lines, mostly useful for capturing them in tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// logWithLevel is the internal logging function that handles formatting.
func logWithLevel(level LogLevel, format string, v ...any) {
	current := Level()
	if level > current {
		return
	}

	// RFC822Z     = "02 Jan 06 15:04 -0700"
	timestamp := time.Now().Format(time.RFC822Z)
	fileTrace := ""

	// If log level is set to `DEBUG` or incoming level is `FATAL`, locate the
	// file and line number that called it for easier debugging.
	if current >= DEBUG || level == FATAL {
		// skip 2: caller of Info/Warn/... is two frames up from here.
		_, file, line, ok := runtime.Caller(2)
		if !ok {
			file = "???"
			line = 0
		}
		if projectRoot != "" {
			if rel, err := filepath.Rel(projectRoot, file); err == nil {
				file = rel
			}
		}
		fileTrace = fmt.Sprintf("%s:%d -", file, line)
	}

	msg := fmt.Sprintf(
		"%s [%s] %s %s",
		timestamp,
		level,
		fileTrace,
		fmt.Sprintf(format, v...),
	)
	log.Println(msg)
}

// Info logs a message at the INFO level.
func Info(format string, v ...any) {
	logWithLevel(INFO, format, v...)
}

// Warn logs a message at the WARN level.
func Warn(format string, v ...any) {
	logWithLevel(WARN, format, v...)
}

// Error logs a message at the ERROR level.
func Error(format string, v ...any) {
	logWithLevel(ERROR, format, v...)
}

// Fatal logs a message at the FATAL level and then exit
func Fatal(format string, v ...any) {
	logWithLevel(FATAL, format, v...)
	exit(1)
}

// Debug logs a message at the DEBUG level.
func Debug(format string, v ...any) {
	logWithLevel(DEBUG, format, v...)
}
