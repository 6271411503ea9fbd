package logger

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// DefaultCategory is used for entries recorded without a Category field.
const DefaultCategory = "General"

// Entry is one recorded log call.
type Entry struct {
	Level    Level
	Category string
	Message  string
	Fields   []Field
}

type entryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// Recorder keeps an ordered copy of every entry at or above its minimum level
// and forwards all calls to the wrapped logger. Loggers derived through With
// and Named share the same entry list.
type Recorder struct {
	next     Logger
	minLevel Level
	fields   []Field
	store    *entryStore
}

// NewRecorder wraps next; a nil next records without forwarding.
func NewRecorder(next Logger, minLevel Level) *Recorder {
	return &Recorder{
		next:     next,
		minLevel: minLevel,
		store:    &entryStore{},
	}
}

func (r *Recorder) Debug(msg string, fields ...Field) {
	r.log(DebugLevel, msg, fields)
	if r.next != nil {
		r.next.Debug(msg, fields...)
	}
}

func (r *Recorder) Info(msg string, fields ...Field) {
	r.log(InfoLevel, msg, fields)
	if r.next != nil {
		r.next.Info(msg, fields...)
	}
}

func (r *Recorder) Warn(msg string, fields ...Field) {
	r.log(WarnLevel, msg, fields)
	if r.next != nil {
		r.next.Warn(msg, fields...)
	}
}

func (r *Recorder) Error(msg string, fields ...Field) {
	r.log(ErrorLevel, msg, fields)
	if r.next != nil {
		r.next.Error(msg, fields...)
	}
}

// Fatal records the entry and forwards it as an error; a recorder never exits the process.
func (r *Recorder) Fatal(msg string, fields ...Field) {
	r.log(FatalLevel, msg, fields)
	if r.next != nil {
		r.next.Error(msg, fields...)
	}
}

func (r *Recorder) With(fields ...Field) Logger {
	child := *r
	child.fields = append(append([]Field{}, r.fields...), fields...)
	if r.next != nil {
		child.next = r.next.With(fields...)
	}
	return &child
}

func (r *Recorder) Named(name string) Logger {
	child := *r
	if r.next != nil {
		child.next = r.next.Named(name)
	}
	return &child
}

func (r *Recorder) Sync() error {
	if r.next != nil {
		return r.next.Sync()
	}
	return nil
}

func (r *Recorder) log(level Level, msg string, fields []Field) {
	if level < r.minLevel {
		return
	}
	all := append(append([]Field{}, r.fields...), fields...)
	category := DefaultCategory
	for _, f := range all {
		if f.Key == CategoryKey && f.Type == zapcore.StringType {
			category = f.String
		}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.entries = append(r.store.entries, Entry{
		Level:    level,
		Category: category,
		Message:  msg,
		Fields:   all,
	})
}

// Entries returns a copy of the recorded entries in call order.
func (r *Recorder) Entries() []Entry {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	entries := make([]Entry, len(r.store.entries))
	copy(entries, r.store.entries)
	return entries
}
