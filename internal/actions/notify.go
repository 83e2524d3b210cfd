package actions

import (
	"context"
	"log/slog"
	"sync"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// Notification is a delivery request produced by a notification node.
type Notification struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Message    string   `json:"message"`
}

// Notifier delivers notifications for one channel. Implementations are
// registered on a NotifierMux per channel name.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// NotifierMux routes notifications to the Notifier registered for their
// channel. An unknown channel falls back to the default notifier when set.
type NotifierMux struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	fallback  Notifier
}

// NewNotifierMux creates a mux with the given fallback (may be nil).
func NewNotifierMux(fallback Notifier) *NotifierMux {
	return &NotifierMux{
		notifiers: make(map[string]Notifier),
		fallback:  fallback,
	}
}

// RegisterChannel binds a notifier to a channel name.
func (m *NotifierMux) RegisterChannel(channel string, n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers[channel] = n
}

// Notify routes the notification to its channel's notifier.
func (m *NotifierMux) Notify(ctx context.Context, n Notification) error {
	m.mu.RLock()
	target, ok := m.notifiers[n.Channel]
	fallback := m.fallback
	m.mu.RUnlock()

	if ok {
		return target.Notify(ctx, n)
	}
	if fallback != nil {
		return fallback.Notify(ctx, n)
	}
	return schema.NewErrorf(schema.ErrCodeNodeExecution,
		"no notifier registered for channel %q", n.Channel)
}

// LogNotifier writes notifications to the structured log. It is the default
// delivery path when no real channel integration is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs deliveries.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification delivered",
		slog.String("channel", n.Channel),
		slog.Int("recipients", len(n.Recipients)),
		slog.String("subject", n.Subject),
	)
	return nil
}
