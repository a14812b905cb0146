// Package klog implements the kernel's dmesg ring buffer. Every line is
// framed as an RFC 5424 syslog message (facility Kernel) the same way
// ingest/log frames ingester log lines, because a boot/panic log line and a
// syslog line share the same shape: severity, timestamp, structured facts,
// free text.
package klog

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// Level is the severity of a ring entry, ordered least to most severe:
// DEBUG, INFO, WARN, ERROR, PANIC.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	PANIC
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case PANIC:
		return "PANIC"
	}
	return "UNKNOWN"
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.Kernel | rfc5424.Debug
	case INFO:
		return rfc5424.Kernel | rfc5424.Info
	case WARN:
		return rfc5424.Kernel | rfc5424.Warning
	case ERROR:
		return rfc5424.Kernel | rfc5424.Error
	case PANIC:
		return rfc5424.Kernel | rfc5424.Emergency
	}
	return rfc5424.Kernel | rfc5424.Debug
}

var ErrNotOpen = errors.New("klog: ring not open")

// Ring is a bounded, thread-safe dmesg buffer. Every Emit call formats an
// RFC 5424 message and appends it, evicting the oldest line once Capacity
// lines are held. A silent Ring (cmdline `-s`) still accepts writes so
// callers never need to special-case the silent case.
type Ring struct {
	mtx      sync.Mutex
	lines    [][]byte
	cap      int
	hostname string
	appname  string
	silent   bool
}

// NewRing creates a dmesg ring holding up to capacity lines (1024 if
// capacity is not positive). hostname and appname are stamped into every
// RFC 5424 message; kernel.Boot uses hostname "maestro" and appname
// "kernel".
func NewRing(capacity int, hostname, appname string) *Ring {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring{cap: capacity, hostname: hostname, appname: appname}
}

// SetSilent records the `-s` cmdline token, reported by Silent. Emit
// records into the ring whether or not the ring is silent.
func (r *Ring) SetSilent(silent bool) {
	r.mtx.Lock()
	r.silent = silent
	r.mtx.Unlock()
}

func (r *Ring) Silent() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.silent
}

// Emit appends one formatted line to the ring.
func (r *Ring) Emit(lvl Level, msgid, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: time.Now(),
		Hostname:  r.hostname,
		AppName:   r.appname,
		MessageID: msgid,
		Message:   []byte(msg),
	}
	b, err := m.MarshalBinary()
	if err != nil {
		// formatting the envelope must never be fatal to the caller
		b = []byte(lvl.String() + " " + msgid + " " + msg)
	}

	r.mtx.Lock()
	r.lines = append(r.lines, b)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
	r.mtx.Unlock()
}

// Lines returns a snapshot of the currently buffered lines, oldest first.
func (r *Ring) Lines() [][]byte {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make([][]byte, len(r.lines))
	copy(out, r.lines)
	return out
}

// Bytes renders the whole ring as one newline-joined blob, for dumping into
// a panic report.
func (r *Ring) Bytes() []byte {
	lines := r.Lines()
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
