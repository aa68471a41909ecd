// Package notify delivers operational events to a sink. The default sink
// writes to the notify log with per-event throttling so a flapping job
// cannot flood the log; a nop sink is used when notifications are
// disabled.
package notify

import (
	"sync"
	"time"

	"cogkernel/internal/logging"
)

// Notifier delivers one operational event. Implementations must be safe
// for concurrent use and must never block the caller on delivery.
type Notifier interface {
	Notify(event, detail string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

// Nop returns a notifier that discards everything.
func Nop() Notifier {
	return nopNotifier{}
}

// LogNotifier writes events to the notify log, throttled per event name.
type LogNotifier struct {
	mu       sync.Mutex
	throttle time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewLog builds a log-backed notifier. A throttle at or below zero means
// every event is delivered.
func NewLog(throttle time.Duration) *LogNotifier {
	return &LogNotifier{
		throttle: throttle,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify logs the event unless an event with the same name was delivered
// within the throttle window.
func (n *LogNotifier) Notify(event, detail string) {
	n.mu.Lock()
	now := n.now()
	if n.throttle > 0 {
		if prev, ok := n.last[event]; ok && now.Sub(prev) < n.throttle {
			n.mu.Unlock()
			return
		}
	}
	n.last[event] = now
	n.mu.Unlock()

	logging.Get(logging.CategoryNotify).Info("%s: %s", event, detail)
}
