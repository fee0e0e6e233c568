// Package notify tells the operator about things that need attention:
// severe findings, failed or stuck agents and the end of an operation.
package notify

import (
	"errors"
	"log"
	"time"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotificationTypeFinding  NotificationType = "finding"
	NotificationTypeError    NotificationType = "error"
	NotificationTypeStuck    NotificationType = "stuck"
	NotificationTypeComplete NotificationType = "complete"
	NotificationTypeInfo     NotificationType = "info"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
	Data      map[string]any // Optional metadata
}

// Notifier is the interface for notification backends
type Notifier interface {
	Notify(notification Notification) error
	Close() error
}

// Manager fans notifications out to every backend
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new notification manager
func NewManager(notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
	}
}

// Notify sends a notification to all registered backends. One backend
// failing doesn't stop the rest.
func (m *Manager) Notify(notification Notification) error {
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all notifiers
func (m *Manager) Close() error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to a logger
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a notifier that logs
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(n Notification) error {
	l.logger.Printf("Notify: [%s] %s: %s\n", n.Type, n.Title, n.Message)
	return nil
}

func (l *LogNotifier) Close() error { return nil }
