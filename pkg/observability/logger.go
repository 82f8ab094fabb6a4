// Package observability provides the gateway's logging and metrics surface.
package observability

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
)

// Logger is the structured logging interface every gateway component holds,
// matching the teacher's pkg/types.Logger shape so call sites never change
// if the backing implementation is swapped.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// stdLogger is the default Logger backed by the standard library log
// package. It is the concrete implementation the teacher's interface never
// supplied.
type stdLogger struct {
	base   *log.Logger
	fields map[string]interface{}
}

// NewStdLogger builds the default Logger, writing to stderr.
func NewStdLogger() Logger {
	return &stdLogger{base: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
}

func (l *stdLogger) format(msg string, fields ...interface{}) string {
	out := msg
	for k, v := range l.fields {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		out += fmt.Sprintf(" %v=%v", fields[i], fields[i+1])
	}
	return out
}

func (l *stdLogger) Debug(msg string, fields ...interface{}) { l.base.Print("DEBUG " + l.format(msg, fields...)) }
func (l *stdLogger) Info(msg string, fields ...interface{})  { l.base.Print("INFO  " + l.format(msg, fields...)) }
func (l *stdLogger) Warn(msg string, fields ...interface{})  { l.base.Print("WARN  " + l.format(msg, fields...)) }
func (l *stdLogger) Error(msg string, fields ...interface{}) { l.base.Print("ERROR " + l.format(msg, fields...)) }
func (l *stdLogger) Fatal(msg string, fields ...interface{}) { l.base.Fatal("FATAL " + l.format(msg, fields...)) }

func (l *stdLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *stdLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &stdLogger{base: l.base, fields: merged}
}

// zapLogger is the optional structured sink behind the same Logger
// interface, for deployments that want JSON logs aggregated centrally.
type zapLogger struct {
	base   *zap.SugaredLogger
	fields map[string]interface{}
}

// NewZapLogger builds a Logger backed by zap's production JSON encoder.
// Construction never fails in practice (zap.NewProduction only errors on a
// broken sink); any error falls back to the stdlib logger so startup never
// hard-fails over a logging backend choice.
func NewZapLogger() Logger {
	base, err := zap.NewProduction()
	if err != nil {
		return NewStdLogger()
	}
	return &zapLogger{base: base.Sugar()}
}

func (l *zapLogger) sugaredArgs(fields ...interface{}) []interface{} {
	args := make([]interface{}, 0, len(l.fields)*2+len(fields))
	for k, v := range l.fields {
		args = append(args, k, v)
	}
	args = append(args, fields...)
	return args
}

func (l *zapLogger) Debug(msg string, fields ...interface{}) { l.base.Debugw(msg, l.sugaredArgs(fields...)...) }
func (l *zapLogger) Info(msg string, fields ...interface{})  { l.base.Infow(msg, l.sugaredArgs(fields...)...) }
func (l *zapLogger) Warn(msg string, fields ...interface{})  { l.base.Warnw(msg, l.sugaredArgs(fields...)...) }
func (l *zapLogger) Error(msg string, fields ...interface{}) { l.base.Errorw(msg, l.sugaredArgs(fields...)...) }
func (l *zapLogger) Fatal(msg string, fields ...interface{}) { l.base.Fatalw(msg, l.sugaredArgs(fields...)...) }

func (l *zapLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *zapLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &zapLogger{base: l.base, fields: merged}
}
