package log

import "time"

// Logger provides structured logging capabilities.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Strings creates a string slice field.
func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error".
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with any value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Cartridge names the cartridge a log line is about.
func Cartridge(name string) Field {
	return String("cartridge", name)
}

// Path names a local or remote path.
func Path(p string) Field {
	return String("path", p)
}

// Op names the remote operation being performed.
func Op(op string) Field {
	return String("op", op)
}

// With returns a logger that adds fields to every entry.
func With(l Logger, fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	if w, ok := l.(*withLogger); ok {
		merged := make([]Field, 0, len(w.fields)+len(fields))
		merged = append(merged, w.fields...)
		merged = append(merged, fields...)
		return &withLogger{next: w.next, fields: merged}
	}
	return &withLogger{next: l, fields: fields}
}

type withLogger struct {
	next   Logger
	fields []Field
}

func (w *withLogger) join(fields []Field) []Field {
	out := make([]Field, 0, len(w.fields)+len(fields))
	out = append(out, w.fields...)
	return append(out, fields...)
}

func (w *withLogger) Debug(msg string, fields ...Field) { w.next.Debug(msg, w.join(fields)...) }
func (w *withLogger) Info(msg string, fields ...Field)  { w.next.Info(msg, w.join(fields)...) }
func (w *withLogger) Warn(msg string, fields ...Field)  { w.next.Warn(msg, w.join(fields)...) }
func (w *withLogger) Error(msg string, fields ...Field) { w.next.Error(msg, w.join(fields)...) }
