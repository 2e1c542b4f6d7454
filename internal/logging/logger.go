// Package logging provides config-driven categorized file-based logging.
// Logs are written to .clipforge/logs/ with separate files per category.
// Logging is controlled by debug_mode in .clipforge/config.yaml - when
// false, no logs are written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // Boot/initialization
	CategoryGateway      Category = "gateway"      // Generation gateway calls
	CategoryExtract      Category = "extract"      // Clip candidate extraction
	CategoryRender       Category = "render"       // Asset rendering
	CategoryStore        Category = "store"        // Campaign/link store operations
	CategoryPublish      Category = "publish"      // Publish state machine
	CategoryOrchestrator Category = "orchestrator" // Top-level orchestration
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// configFile structure for reading .clipforge/config.yaml
type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".clipforge", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== clipforge logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", config.Level)
	return nil
}

func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	path := filepath.Join(workspace, ".clipforge", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config = cf.Logging

	switch strings.ToLower(config.Level) {
	case "debug":
		logLevel = LevelDebug
	case "warn":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// Enable forces debug logging on, writing to the given directory.
// Used by tests and the --debug flag.
func Enable(dir string) {
	configMu.Lock()
	config.DebugMode = true
	logLevel = LevelDebug
	configMu.Unlock()
	logsDir = dir
	_ = os.MkdirAll(dir, 0755)
}

func categoryEnabled(cat Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if !config.DebugMode {
		return false
	}
	if len(config.Categories) == 0 {
		return true
	}
	enabled, ok := config.Categories[string(cat)]
	return !ok || enabled
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	loggersMu.RLock()
	l, ok := loggers[cat]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}

	l = &Logger{category: cat}
	if logsDir != "" {
		path := filepath.Join(logsDir, string(cat)+".log")
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			l.file = f
			l.logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
		}
	}
	loggers[cat] = l
	return l
}

func (l *Logger) write(level int, prefix, format string, args ...interface{}) {
	if l.logger == nil || !categoryEnabled(l.category) {
		return
	}
	configMu.RLock()
	min := logLevel
	configMu.RUnlock()
	if level < min {
		return
	}
	l.logger.Printf(prefix+" "+format, args...)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "[DEBUG]", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "[INFO]", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "[WARN]", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "[ERROR]", format, args...)
}

// Close closes all open log files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Category helpers, mirroring call sites across the codebase.

func Gateway(format string, args ...interface{})      { Get(CategoryGateway).Info(format, args...) }
func GatewayDebug(format string, args ...interface{}) { Get(CategoryGateway).Debug(format, args...) }
func GatewayWarn(format string, args ...interface{})  { Get(CategoryGateway).Warn(format, args...) }
func GatewayError(format string, args ...interface{}) { Get(CategoryGateway).Error(format, args...) }
func Extract(format string, args ...interface{})      { Get(CategoryExtract).Info(format, args...) }
func ExtractDebug(format string, args ...interface{}) { Get(CategoryExtract).Debug(format, args...) }
func Render(format string, args ...interface{})       { Get(CategoryRender).Info(format, args...) }
func RenderDebug(format string, args ...interface{})  { Get(CategoryRender).Debug(format, args...) }
func Store(format string, args ...interface{})        { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{})   { Get(CategoryStore).Debug(format, args...) }
func Publish(format string, args ...interface{})      { Get(CategoryPublish).Info(format, args...) }
func PublishDebug(format string, args ...interface{}) { Get(CategoryPublish).Debug(format, args...) }
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}
