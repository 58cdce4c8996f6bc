package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var levelOrder = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// structuredLogger writes log entries as JSON lines or plain text.
type structuredLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	level  int
	format string
	fields []Field
}

// NewLogger creates a logger from the given configuration. Unknown levels
// default to "info"; unknown outputs default to stdout.
func NewLogger(cfg LogConfig) (Logger, error) {
	level, ok := levelOrder[cfg.Level]
	if !ok {
		level = levelOrder["info"]
	}

	var out io.Writer = os.Stdout
	if cfg.Output == "file" {
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file output requires a file path")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}

	format := cfg.Format
	if format == "" {
		format = "json"
	}

	return &structuredLogger{
		mu:     &sync.Mutex{},
		out:    out,
		level:  level,
		format: format,
	}, nil
}

func (l *structuredLogger) Debug(msg string, fields ...Field) { l.log("debug", msg, fields) }
func (l *structuredLogger) Info(msg string, fields ...Field)  { l.log("info", msg, fields) }
func (l *structuredLogger) Warn(msg string, fields ...Field)  { l.log("warn", msg, fields) }
func (l *structuredLogger) Error(msg string, fields ...Field) { l.log("error", msg, fields) }

func (l *structuredLogger) WithFields(fields ...Field) Logger {
	clone := *l
	clone.fields = append(append([]Field{}, l.fields...), fields...)
	return &clone
}

func (l *structuredLogger) LogRunEvent(runID string, event string, data map[string]interface{}) {
	l.Info("workflow run "+event,
		append(dataFields(data), Field{Key: "run_id", Value: runID})...)
}

func (l *structuredLogger) LogItemEvent(runID string, itemID string, event string, data map[string]interface{}) {
	l.Info("timeline item "+event,
		append(dataFields(data),
			Field{Key: "run_id", Value: runID},
			Field{Key: "item_id", Value: itemID})...)
}

func (l *structuredLogger) LogSystemEvent(event string, data map[string]interface{}) {
	l.Info("system "+event, dataFields(data)...)
}

func (l *structuredLogger) log(level, msg string, fields []Field) {
	if levelOrder[level] < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
	}
	all := append(append([]Field{}, l.fields...), fields...)
	if len(all) > 0 {
		entry.Fields = make(map[string]interface{}, len(all))
		for _, f := range all {
			entry.Fields[f.Key] = f.Value
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "text" {
		fmt.Fprintf(l.out, "%s [%s] %s", entry.Timestamp.Format(time.RFC3339), level, msg)
		for _, f := range all {
			fmt.Fprintf(l.out, " %s=%v", f.Key, f.Value)
		}
		fmt.Fprintln(l.out)
		return
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out, `{"level":"error","message":"failed to marshal log entry: %v"}`+"\n", err)
		return
	}
	l.out.Write(append(line, '\n'))
}

func dataFields(data map[string]interface{}) []Field {
	fields := make([]Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, Field{Key: k, Value: v})
	}
	return fields
}

// nopLogger discards everything. Used where logging is optional.
type nopLogger struct{}

// NewNopLogger returns a logger that discards all entries.
func NewNopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(msg string, fields ...Field)                                      {}
func (nopLogger) Info(msg string, fields ...Field)                                       {}
func (nopLogger) Warn(msg string, fields ...Field)                                       {}
func (nopLogger) Error(msg string, fields ...Field)                                      {}
func (nopLogger) WithFields(fields ...Field) Logger                                      { return nopLogger{} }
func (nopLogger) LogRunEvent(runID string, event string, data map[string]interface{})    {}
func (nopLogger) LogItemEvent(runID, itemID, event string, data map[string]interface{})  {}
func (nopLogger) LogSystemEvent(event string, data map[string]interface{})               {}
