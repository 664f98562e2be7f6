// Package status carries progress from the automation goroutine to whatever
// presents it (console printer or terminal UI).
package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// OrNop returns l, or a logger that discards everything when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

type Kind string

const (
	KindStatus   Kind = "status"
	KindLogin    Kind = "login"
	KindItem     Kind = "item"
	KindWarning  Kind = "warning"
	KindFinished Kind = "finished"
)

// Update is one notification. Item updates fill Link, Match and Action;
// Count is the number of items processed so far in the run.
type Update struct {
	Kind    Kind
	Message string
	Count   int
	Link    string
	Match   string
	Action  string
	Err     error
	At      time.Time
}

// Notifier delivers updates over a buffered channel without ever blocking
// the sender. Updates that do not fit are dropped and counted.
type Notifier struct {
	ch      chan Update
	dropped atomic.Int64
	once    sync.Once
	now     func() time.Time
}

func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &Notifier{ch: make(chan Update, buffer), now: time.Now}
}

// Updates is the receive side. It is closed by Close.
func (n *Notifier) Updates() <-chan Update {
	return n.ch
}

// Send enqueues u and reports whether it was delivered. A nil Notifier
// accepts and discards everything.
func (n *Notifier) Send(u Update) bool {
	if n == nil {
		return false
	}
	if u.At.IsZero() {
		u.At = n.now()
	}
	select {
	case n.ch <- u:
		return true
	default:
		n.dropped.Add(1)
		return false
	}
}

func (n *Notifier) Status(msg string) bool {
	return n.Send(Update{Kind: KindStatus, Message: msg})
}

func (n *Notifier) Warning(msg string, err error) bool {
	return n.Send(Update{Kind: KindWarning, Message: msg, Err: err})
}

// Dropped returns how many updates were discarded because the buffer was full.
func (n *Notifier) Dropped() int64 {
	if n == nil {
		return 0
	}
	return n.dropped.Load()
}

// Close closes the channel. Only the sending side may call it, once it is
// done sending.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.once.Do(func() { close(n.ch) })
}
