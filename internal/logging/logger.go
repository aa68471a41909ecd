// Package logging provides categorized, file-based logging for the
// coordination kernel. Each category writes to its own file under
// <workspace>/.cogkernel/logs/, built on zap. When logging has not been
// configured all helpers are no-ops, so library code can log
// unconditionally.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a kernel subsystem for log routing.
type Category string

const (
	CategoryStore     Category = "store"     // artifact store operations
	CategoryQueue     Category = "queue"     // embedding queue worker
	CategoryJobs      Category = "jobs"      // background jobs, supervisor
	CategorySecurity  Category = "security"  // path guard, sandbox, signing
	CategoryKernel    Category = "kernel"    // boundary wrapper dispatch
	CategoryPolicy    Category = "policy"    // rank engine decisions
	CategoryBoard     Category = "board"     // blackboard posts
	CategorySession   Category = "session"   // change sessions
	CategoryEmbedding Category = "embedding" // embedding providers
	CategoryContracts Category = "contracts" // reactive contract chaining
	CategoryNotify    Category = "notify"    // notification sink
)

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu        sync.RWMutex
	loggers   = map[Category]*Logger{}
	logsDir   string
	enabled   bool
	debugMode bool
	nop       = zap.NewNop().Sugar()
)

// Configure enables logging under the given workspace directory.
// debug additionally enables the Debug level. Safe to call more than once;
// later calls rebind the output directory.
func Configure(workspace string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Join(workspace, ".cogkernel", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logsDir = dir
	enabled = true
	debugMode = debug
	loggers = map[Category]*Logger{}
	return nil
}

// Disable turns all logging off. Used by tests that want quiet output.
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
	enabled = false
	loggers = map[Category]*Logger{}
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	on := enabled
	mu.RUnlock()

	if !on {
		return &Logger{category: cat, sugar: nop}
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := newFileLogger(cat)
	loggers[cat] = l
	return l
}

// newFileLogger builds a zap logger writing to <logsDir>/<category>.log.
// Caller holds mu.
func newFileLogger(cat Category) *Logger {
	path := filepath.Join(logsDir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &Logger{category: cat, sugar: nop}
	}

	level := zapcore.InfoLevel
	if debugMode {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(f), level)
	sugar := zap.New(core).Sugar().With("cat", string(cat))
	return &Logger{category: cat, sugar: sugar}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Convenience helpers for the hot categories.

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func Queue(format string, args ...interface{})      { Get(CategoryQueue).Info(format, args...) }
func QueueDebug(format string, args ...interface{}) { Get(CategoryQueue).Debug(format, args...) }
func Jobs(format string, args ...interface{})       { Get(CategoryJobs).Info(format, args...) }
func JobsDebug(format string, args ...interface{})  { Get(CategoryJobs).Debug(format, args...) }
func Security(format string, args ...interface{})   { Get(CategorySecurity).Info(format, args...) }
func SecurityWarn(format string, args ...interface{}) {
	Get(CategorySecurity).Warn(format, args...)
}
func Kernel(format string, args ...interface{})      { Get(CategoryKernel).Info(format, args...) }
func KernelDebug(format string, args ...interface{}) { Get(CategoryKernel).Debug(format, args...) }
func Embedding(format string, args ...interface{})   { Get(CategoryEmbedding).Info(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Timer measures the duration of one operation and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation in the given category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{category: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time. Operations slower than a second are warned.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > time.Second {
		l.Warn("%s took %s", t.op, elapsed)
		return
	}
	l.Debug("%s took %s", t.op, elapsed)
}
