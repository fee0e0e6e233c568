package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// TerminalNotifier sends desktop notifications: osascript on macOS,
// notify-send elsewhere
type TerminalNotifier struct {
	enabled bool
	run     func(name string, args ...string) error
}

// NewTerminalNotifier creates a new terminal notifier. It is a no-op when
// no notification command is available.
func NewTerminalNotifier() *TerminalNotifier {
	t := &TerminalNotifier{
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
	if _, err := exec.LookPath(notifyCommand()); err == nil {
		t.enabled = true
	}
	return t
}

func notifyCommand() string {
	if runtime.GOOS == "darwin" {
		return "osascript"
	}
	return "notify-send"
}

// Notify sends one desktop notification
func (t *TerminalNotifier) Notify(notification Notification) error {
	if !t.enabled {
		return nil
	}

	var err error
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			escapeAppleScript(notification.Message), escapeAppleScript(notification.Title))
		err = t.run("osascript", "-e", script)
	} else {
		err = t.run("notify-send", "--app-name=swarm", notification.Title, notification.Message)
	}
	if err != nil {
		return fmt.Errorf("failed to send terminal notification: %w", err)
	}
	return nil
}

// Close is a no-op for the terminal notifier
func (t *TerminalNotifier) Close() error {
	return nil
}

// escapeAppleScript escapes quotes and backslashes for AppleScript
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}
