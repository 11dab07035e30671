// Package logging is the event logger used by the session manager, the
// booking controller and the task relay.  Messages are exported values so
// tests can assert on them through a Recorder.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sort"
	"strings"
	"sync"
)

// Fields are structured key/value pairs attached to a log line.
type Fields map[string]string

// Logger is implemented by StdLogger and Recorder.
type Logger interface {
	Info(message string, fields Fields)
	Warn(message string, err error, fields Fields)
}

// log messages
const (
	SessionCreated        = "session created"
	SessionEvicted        = "session evicted by device cap"
	SessionRotated        = "session handle rotated"
	SessionExpired        = "session expired"
	SessionDestroyed      = "session destroyed"
	SessionDeviceMismatch = "session presented from another device, logged out"
	SessionsRevoked       = "all sessions revoked"
	CacheCleanupFailed    = "cache cleanup failed"
	CompensationRan       = "compensating action ran"

	// DataIntegrityWarning marks a compensation that failed and left the
	// durable store and the cache out of step.  Operators must clean up.
	DataIntegrityWarning = "DATA INTEGRITY WARNING: compensation failed"

	BookingsCanceled = "bookings force-canceled"
	SlotsCanceled    = "slots force-canceled"
	ItemCanceled     = "item line items force-canceled"
	NothingToCancel  = "nothing to cancel"
	CancelInHand     = "forced cancellation refused, order in hand"
	TransitionDone   = "account transition committed"
	TransitionRace   = "account transition lost a race, retrying"
	AccountDeleted   = "account deleted"
	ItemRetired      = "item retired"
	CancelRace       = "cancellation lost a race, retrying"

	TaskPublished = "task published"
	TaskRetry     = "task publish failed, will retry"
	TaskFailed    = "task exhausted attempts"
)

// StdLogger writes through the standard library logger.
type StdLogger struct {
	l *log.Logger
}

// NewStdLogger wraps l; a nil l uses log.Default().
func NewStdLogger(l *log.Logger) StdLogger {
	if l == nil {
		l = log.Default()
	}
	return StdLogger{l: l}
}

func (s StdLogger) Info(message string, fields Fields) {
	s.l.Printf("INFO %s%s", message, fields.String())
}

func (s StdLogger) Warn(message string, err error, fields Fields) {
	s.l.Printf("WARN %s err=%q%s", message, errString(err), fields.String())
}

// String renders the fields sorted by key, prefixed with a space.
func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(f[k])
	}
	return b.String()
}

// Redact hashes a secret value (session handle, device id) down to a
// 12 character prefix that is stable enough to correlate log lines.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:12]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Line is one recorded log entry.
type Line struct {
	Level   string
	Message string
	Err     error
	Fields  Fields
}

// Recorder keeps every line in memory.  It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	lines []Line
}

func (r *Recorder) Info(message string, fields Fields) {
	r.record(Line{Level: "INFO", Message: message, Fields: copyFields(fields)})
}

func (r *Recorder) Warn(message string, err error, fields Fields) {
	r.record(Line{Level: "WARN", Message: message, Err: err, Fields: copyFields(fields)})
}

func (r *Recorder) record(l Line) {
	r.mu.Lock()
	r.lines = append(r.lines, l)
	r.mu.Unlock()
}

// Matching returns every line with the given message.
func (r *Recorder) Matching(message string) []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Line
	for _, l := range r.lines {
		if l.Message == message {
			out = append(out, l)
		}
	}
	return out
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
