package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var (
	mu          sync.Mutex
	verbose     = false
	disableLogs = false
	forceStdErr = false
	stdout      io.Writer = os.Stdout
	stderr      io.Writer = os.Stderr
	logPrefixes           = map[int]string{
		levelDebug: "\033[37m[DBG]\033[0m", // White
		levelInfo:  "\033[36m[INF]\033[0m", // Cyan
		levelWarn:  "\033[33m[WRN]\033[0m", // Yellow
		levelError: "\033[31m[ERR]\033[0m", // Red
	}
)

// SetVerbose sets the logging verbosity. If true, debug messages are displayed.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose logging is enabled.
func IsVerbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verbose
}

// DisableLogs disables all logging.
func DisableLogs() {
	mu.Lock()
	defer mu.Unlock()
	disableLogs = true
}

// EnableLogs re-enables logging after DisableLogs.
func EnableLogs() {
	mu.Lock()
	defer mu.Unlock()
	disableLogs = false
}

// SetForceStdErr sends every level to stderr. Used by the service command so that
// stdout stays free for command output.
func SetForceStdErr(v bool) {
	mu.Lock()
	defer mu.Unlock()
	forceStdErr = v
}

// SetOutput replaces the destinations for regular and error output.
// A nil writer restores the corresponding OS stream.
func SetOutput(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	stdout = out
	stderr = errOut
}

// Debugf logs a debug message if verbose is true.
func Debugf(format string, args ...interface{}) {
	logMessage(levelDebug, "", format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	logMessage(levelInfo, "", format, args...)
}

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) {
	logMessage(levelWarn, "", format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	logMessage(levelError, "", format, args...)
}

// Fatalf logs an error message and exits the program.
func Fatalf(format string, args ...interface{}) {
	logMessage(levelError, "", format, args...)
	os.Exit(1)
}

// Logger prepends a fixed scope (e.g. "[vpn_client tun0]") to every message.
type Logger struct {
	scope string
}

// With returns a Logger that prefixes every message with scope.
func With(scope string) *Logger {
	return &Logger{scope: scope}
}

// Scope returns the prefix of this logger.
func (l *Logger) Scope() string {
	return l.scope
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	logMessage(levelDebug, l.scope, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	logMessage(levelInfo, l.scope, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	logMessage(levelWarn, l.scope, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	logMessage(levelError, l.scope, format, args...)
}

// logMessage formats and writes a log message with the specified log level.
func logMessage(level int, scope string, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if disableLogs {
		return
	}
	if level == levelDebug && !verbose {
		return
	}

	message := fmt.Sprintf(format, args...)
	output := logPrefixes[level] + " "
	if scope != "" {
		output += scope + " "
	}
	output += message + "\n"

	if forceStdErr || level == levelError {
		_, _ = io.WriteString(stderr, output)
	} else {
		_, _ = io.WriteString(stdout, output)
	}
}
