package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Recorder keeps log entries in memory so tests can inspect what a
// component logged.
type Recorder struct {
	logs *observer.ObservedLogs
}

// NewRecorder returns a logger that records every entry at level and above.
func NewRecorder(level zapcore.Level) (*zap.Logger, *Recorder) {
	core, logs := observer.New(level)
	return zap.New(core), &Recorder{logs: logs}
}

// Messages returns the recorded messages in order.
func (r *Recorder) Messages() []string {
	entries := r.logs.All()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

// Count returns how many entries were recorded at level.
func (r *Recorder) Count(level zapcore.Level) int {
	return r.logs.FilterLevelExact(level).Len()
}

// StringField returns the value of key on the first entry with message msg.
func (r *Recorder) StringField(msg, key string) (string, bool) {
	for _, e := range r.logs.FilterMessage(msg).All() {
		if v, ok := e.ContextMap()[key].(string); ok {
			return v, true
		}
	}
	return "", false
}

// Contains reports whether s appears in any recorded message or string
// field. Tests use it to check that a credential never reached the log.
func (r *Recorder) Contains(s string) bool {
	for _, e := range r.logs.All() {
		if strings.Contains(e.Message, s) {
			return true
		}
		for _, f := range e.Context {
			if f.Type == zapcore.StringType && strings.Contains(f.String, s) {
				return true
			}
		}
	}
	return false
}
