// Package notify delivers one-shot user-visible notifications (toasts) to
// one or more sinks: the terminal, Slack, Discord or a shell command.
//
// Notify is fire-and-forget. Sinks report their own delivery failures
// through the standard logger; nothing is returned to the caller.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Color constants for notification severity, shared by the chat sinks.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Color maps a severity to a sidebar color hint.
func (s Severity) Color() string {
	switch s {
	case SeveritySuccess:
		return ColorSuccess
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// Notification is a single message shown to the user.
type Notification struct {
	Message  string
	Severity Severity
}

// Info builds an info notification.
func Info(msg string) Notification { return Notification{Message: msg, Severity: SeverityInfo} }

// Error builds an error notification.
func Error(msg string) Notification { return Notification{Message: msg, Severity: SeverityError} }

// Notifier accepts notifications for display.
type Notifier interface {
	Notify(n Notification)
}

// Sink is a destination that can fail. Chat-platform sinks implement Sink and
// are adapted into a Notifier with Deliver or Async.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Notification) {}

// Writer prints notifications as single lines to an io.Writer.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter creates a terminal sink.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Notify writes "[severity] message".
func (w *Writer) Notify(n Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "[%s] %s\n", n.Severity, n.Message)
}

// Multi fans out to several notifiers in order.
type Multi []Notifier

// Notify forwards n to every notifier.
func (m Multi) Notify(n Notification) {
	for _, nt := range m {
		nt.Notify(n)
	}
}

// deliverTimeout bounds a single sink delivery.
const deliverTimeout = 15 * time.Second

// Async runs sink deliveries on a background goroutine so slow platforms
// never block the caller. Notifications beyond the queue capacity are
// dropped and logged.
type Async struct {
	name  string
	sink  Sink
	queue chan Notification
	done  chan struct{}
	once  sync.Once
}

// NewAsync starts a delivery goroutine for sink. Close stops it after the
// queue drains.
func NewAsync(name string, sink Sink, capacity int) *Async {
	if capacity <= 0 {
		capacity = 32
	}
	a := &Async{
		name:  name,
		sink:  sink,
		queue: make(chan Notification, capacity),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues n without blocking.
func (a *Async) Notify(n Notification) {
	select {
	case a.queue <- n:
	default:
		log.Printf("notify: %s queue full, dropping %q", a.name, n.Message)
	}
}

// Close flushes pending notifications and stops the goroutine.
func (a *Async) Close() error {
	a.once.Do(func() { close(a.queue) })
	<-a.done
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := a.sink.Deliver(ctx, n); err != nil {
			log.Printf("notify: %s delivery failed: %v", a.name, err)
		}
		cancel()
	}
}

// Recorder keeps every notification in memory. It is safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	list []Notification
}

// Notify records n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.list))
	copy(out, r.list)
	return out
}

// Count returns how many notifications of severity s were recorded.
func (r *Recorder) Count(s Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.list {
		if x.Severity == s {
			n++
		}
	}
	return n
}
