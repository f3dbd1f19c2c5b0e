package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dCellLogger implements the ILogger interface with custom formatting
type dCellLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *dCellLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dCellLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *dCellLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *dCellLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *dCellLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *dCellLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *dCellLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

func newLogger(name string, w io.Writer, level logger.LogLevel) *dCellLogger {
	if w == nil {
		w = os.Stderr
	}
	return &dCellLogger{
		name:   name,
		level:  level,
		logger: log.New(w, "", log.Ldate|log.Ltime),
	}
}

// CreateLogger implements dragonboats logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return newLogger(pkgName, os.Stderr, logger.INFO)
}

// NewLogger creates the logger of one library component. It writes to the
// configured debug sink and logs at DEBUG level when the component's debug
// flag is set.
func NewLogger(name string, cfg *ClientConfig, flag DebugFlag) logger.ILogger {
	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = logger.INFO
	}
	if cfg.DebugFlags&flag != 0 {
		level = logger.DEBUG
	}
	return newLogger(name, cfg.DebugSink, level)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel. The empty string
// means info.
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerNames are the loggers obtained through logger.GetLogger
var loggerNames = []string{"cell", "transport", "protocol", "client", "simulator", "cli"}

// InitLoggers installs the custom format as dragonboats logger factory. Only
// the command line tool calls it; the library passes loggers explicitly.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)
	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
