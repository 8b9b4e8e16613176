// Package logger implements semindex's structured leveled logger: an
// async-buffered console + rotating file writer with job-id context
// propagation and phase-timing helpers, in the shape of the teacher's
// pkg/logger but trimmed to the transports this daemon actually drives.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Logger struct {
	config      atomic.Value
	logChan     chan LogEntry
	writer      *FileWriter
	sink        Sink
	writerMu    sync.Mutex
	wg          sync.WaitGroup
	isClosed    atomic.Bool
	consoleOut  io.Writer
	batchBuffer []LogEntry
	batchMu     sync.Mutex
	flushTicker *time.Ticker
	doneChan    chan struct{}
}

var defaultLogger *Logger
var once sync.Once

// New creates a Logger writing to cfg.LogDir/cfg.FileName with an optional
// external Sink (nil means no-op).
func New(cfg Config, sink Sink) (*Logger, error) {
	if cfg.AsyncBufferSize <= 0 {
		cfg.AsyncBufferSize = 1000
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 100 * 1024 * 1024
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 15
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100
	}
	if sink == nil {
		sink = noopSink{}
	}

	fw, err := NewFileWriter(cfg)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		logChan:     make(chan LogEntry, cfg.AsyncBufferSize),
		writer:      fw,
		sink:        sink,
		consoleOut:  os.Stdout,
		batchBuffer: make([]LogEntry, 0, cfg.BatchSize),
		flushTicker: time.NewTicker(time.Duration(cfg.FlushInterval) * time.Millisecond),
		doneChan:    make(chan struct{}),
	}
	l.config.Store(cfg)

	l.wg.Add(2)
	go l.processLogs()
	go l.periodicFlush()

	return l, nil
}

// GetDefault returns the process-wide default logger.
func GetDefault() *Logger { return defaultLogger }

// Initialize sets up the default logger exactly once.
func Initialize(cfg Config, sink Sink) error {
	var err error
	once.Do(func() {
		defaultLogger, err = New(cfg, sink)
	})
	return err
}

func (l *Logger) periodicFlush() {
	defer l.wg.Done()
	for {
		select {
		case <-l.flushTicker.C:
			l.flushBatch()
		case <-l.doneChan:
			return
		}
	}
}

func (l *Logger) processLogs() {
	defer l.wg.Done()
	for entry := range l.logChan {
		l.addToBatch(entry)
	}
	l.flushBatch()
}

func (l *Logger) addToBatch(entry LogEntry) {
	l.batchMu.Lock()
	defer l.batchMu.Unlock()
	l.batchBuffer = append(l.batchBuffer, entry)
	cfg := l.config.Load().(Config)
	if len(l.batchBuffer) >= cfg.BatchSize {
		l.flushBatchLocked()
	}
}

func (l *Logger) flushBatch() {
	l.batchMu.Lock()
	defer l.batchMu.Unlock()
	l.flushBatchLocked()
}

func (l *Logger) flushBatchLocked() {
	if len(l.batchBuffer) == 0 {
		return
	}
	for _, entry := range l.batchBuffer {
		l.writeEntry(entry)
	}
	l.batchBuffer = l.batchBuffer[:0]
}

func (l *Logger) writeEntry(entry LogEntry) {
	cfg := l.config.Load().(Config)
	msg := l.formatEntry(entry)

	l.writerMu.Lock()
	if l.writer != nil {
		l.writer.Write([]byte(msg))
	}
	l.writerMu.Unlock()

	if cfg.ConsoleOutput {
		if cfg.ConsoleColor {
			fmt.Fprint(l.consoleOut, l.formatEntryColor(entry))
		} else {
			fmt.Fprint(l.consoleOut, msg)
		}
	}

	if l.sink != nil {
		go l.sink.Write(entry)
	}
}

func (l *Logger) formatEntry(entry LogEntry) string {
	msg := fmt.Sprintf("%s [%s]", entry.Time.Format("2006-01-02 15:04:05.000"), entry.Level.String())
	if entry.JobID != "" {
		msg += fmt.Sprintf(" [%s]", entry.JobID)
	}
	msg += fmt.Sprintf(" [%s.%s:%d]", entry.ClassName, entry.MethodName, entry.Line)
	if entry.Duration > 0 {
		msg += fmt.Sprintf(" [%dms]", entry.Duration.Milliseconds())
	}
	msg += " - " + entry.Message
	if len(entry.Fields) > 0 {
		msg += fmt.Sprintf(" %v", entry.Fields)
	}
	return msg + "\n"
}

func (l *Logger) formatEntryColor(entry LogEntry) string {
	msg := fmt.Sprintf("%s %s[%s]%s", entry.Time.Format("2006-01-02 15:04:05.000"), entry.Level.Color(), entry.Level.String(), ColorReset)
	if entry.JobID != "" {
		msg += fmt.Sprintf(" [\033[1m%s\033[0m]", entry.JobID)
	}
	msg += fmt.Sprintf(" [%s.%s:%d]", entry.ClassName, entry.MethodName, entry.Line)
	if entry.Duration > 0 {
		msg += fmt.Sprintf(" [\033[1;33m%dms\033[0m]", entry.Duration.Milliseconds())
	}
	msg += " - " + entry.Message
	if len(entry.Fields) > 0 {
		msg += fmt.Sprintf(" \033[90m%v\033[0m", entry.Fields)
	}
	return msg + "\n"
}

func (l *Logger) logWithContext(ctx context.Context, level Level, msg string, fields map[string]interface{}, duration time.Duration) {
	if l.isClosed.Load() {
		return
	}
	cfg := l.config.Load().(Config)
	if level < cfg.Level {
		return
	}
	fileName, funcName, line := getCallerInfo(4)

	entry := LogEntry{
		Time:       time.Now(),
		Level:      level,
		JobID:      JobID(ctx),
		ClassName:  fileName,
		MethodName: funcName,
		Line:       line,
		Message:    msg,
		Fields:     fields,
		Duration:   duration,
	}

	select {
	case l.logChan <- entry:
	default:
		if level != DEBUG {
			fmt.Fprintf(os.Stderr, "[logger] buffer full, dropping %s: %s\n", level.String(), msg)
		}
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.logWithContext(nil, DEBUG, fmt.Sprintf(format, args...), nil, 0)
}
func (l *Logger) Info(format string, args ...interface{}) {
	l.logWithContext(nil, INFO, fmt.Sprintf(format, args...), nil, 0)
}
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logWithContext(nil, WARN, fmt.Sprintf(format, args...), nil, 0)
}
func (l *Logger) Error(format string, args ...interface{}) {
	l.logWithContext(nil, ERROR, fmt.Sprintf(format, args...), nil, 0)
}
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.logWithContext(nil, FATAL, fmt.Sprintf(format, args...), nil, 0)
	l.Close()
	os.Exit(1)
}

func (l *Logger) DebugCtx(ctx context.Context, format string, args ...interface{}) {
	l.logWithContext(ctx, DEBUG, fmt.Sprintf(format, args...), nil, 0)
}
func (l *Logger) InfoCtx(ctx context.Context, format string, args ...interface{}) {
	l.logWithContext(ctx, INFO, fmt.Sprintf(format, args...), nil, 0)
}
func (l *Logger) WarnCtx(ctx context.Context, format string, args ...interface{}) {
	l.logWithContext(ctx, WARN, fmt.Sprintf(format, args...), nil, 0)
}
func (l *Logger) ErrorCtx(ctx context.Context, format string, args ...interface{}) {
	l.logWithContext(ctx, ERROR, fmt.Sprintf(format, args...), nil, 0)
}

func (l *Logger) InfoWithFields(ctx context.Context, fields map[string]interface{}, format string, args ...interface{}) {
	l.logWithContext(ctx, INFO, fmt.Sprintf(format, args...), fields, 0)
}
func (l *Logger) WarnWithFields(ctx context.Context, fields map[string]interface{}, format string, args ...interface{}) {
	l.logWithContext(ctx, WARN, fmt.Sprintf(format, args...), fields, 0)
}
func (l *Logger) ErrorWithFields(ctx context.Context, fields map[string]interface{}, format string, args ...interface{}) {
	l.logWithContext(ctx, ERROR, fmt.Sprintf(format, args...), fields, 0)
}

func (l *Logger) InfoWithDuration(ctx context.Context, duration time.Duration, format string, args ...interface{}) {
	l.logWithContext(ctx, INFO, fmt.Sprintf(format, args...), nil, duration)
}
func (l *Logger) WarnWithDuration(ctx context.Context, duration time.Duration, format string, args ...interface{}) {
	l.logWithContext(ctx, WARN, fmt.Sprintf(format, args...), nil, duration)
}

func (l *Logger) SetLevel(level Level) {
	cfg := l.config.Load().(Config)
	cfg.Level = level
	l.config.Store(cfg)
}

func (l *Logger) GetLevel() Level {
	return l.config.Load().(Config).Level
}

// Close gracefully shuts down the logger, flushing any buffered entries.
func (l *Logger) Close() {
	if l.isClosed.CompareAndSwap(false, true) {
		l.flushTicker.Stop()
		close(l.doneChan)
		close(l.logChan)
		l.wg.Wait()

		l.writerMu.Lock()
		if l.writer != nil {
			l.writer.Close()
		}
		l.writerMu.Unlock()
		l.sink.Close()
	}
}

// Package-level helpers delegating to the default logger.

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(format, args...)
	}
}
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(format, args...)
	}
}
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(format, args...)
	}
}
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(format, args...)
	}
}
