// Package alerts fans pipeline alerts out to the configured channels. The
// structured log always receives every alert; email and a chat webhook are
// added when configured. Alerts carry one of four priorities and repeated
// alerts with the same title are rate limited.
package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Priority orders alerts by urgency.
type Priority int

const (
	PriorityInfo Priority = iota
	PriorityWarning
	PriorityHigh
	PriorityCritical
)

// String returns the human-readable name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityInfo:
		return "info"
	case PriorityWarning:
		return "warning"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Alert is one emitted alert.
type Alert struct {
	Priority Priority
	Title    string
	Message  string
	Time     time.Time
}

// Channel delivers alerts to one destination.
type Channel interface {
	Send(ctx context.Context, a Alert) error
}

const (
	// dedupeWindow suppresses re-sends of an alert with the same title.
	dedupeWindow = 5 * time.Minute

	// historySize bounds the in-memory alert history ring.
	historySize = 200
)

// Manager composes the configured channels behind one Alert entry point.
// Safe for concurrent use.
type Manager struct {
	log      *slog.Logger
	channels []Channel

	mu       sync.Mutex
	lastSent map[string]time.Time
	history  []Alert
}

// NewManager creates a manager that always logs; additional channels are
// attached with Add.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:      log,
		lastSent: map[string]time.Time{},
	}
}

// Add attaches a delivery channel.
func (m *Manager) Add(c Channel) {
	m.channels = append(m.channels, c)
}

// Alert emits one alert. Delivery failures on individual channels are
// logged, never propagated; alerting must not take the pipeline down.
func (m *Manager) Alert(ctx context.Context, p Priority, title, message string) {
	a := Alert{Priority: p, Title: title, Message: message, Time: time.Now().UTC()}

	m.log.LogAttrs(ctx, slogLevel(p), "alert",
		slog.String("priority", p.String()),
		slog.String("title", title),
		slog.String("message", message))

	m.mu.Lock()
	m.history = append(m.history, a)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	if last, ok := m.lastSent[title]; ok && time.Since(last) < dedupeWindow {
		m.mu.Unlock()
		return
	}
	m.lastSent[title] = a.Time
	channels := m.channels
	m.mu.Unlock()

	for _, c := range channels {
		if err := c.Send(ctx, a); err != nil {
			m.log.Error("alert delivery failed",
				"title", title, "error", err)
		}
	}
}

// Critical is shorthand for a critical-priority alert. It satisfies the
// securestore.Alerter interface.
func (m *Manager) Critical(ctx context.Context, title, message string) {
	m.Alert(ctx, PriorityCritical, title, message)
}

// History returns a copy of the recent alerts, oldest first.
func (m *Manager) History() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.history))
	copy(out, m.history)
	return out
}

// slogLevel maps an alert priority onto a log level.
func slogLevel(p Priority) slog.Level {
	switch p {
	case PriorityCritical, PriorityHigh:
		return slog.LevelError
	case PriorityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
