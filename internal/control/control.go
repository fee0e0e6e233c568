// Package control carries operator commands from the CLI to the running
// daemon through a watched JSON file.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Action is what a command asks the daemon to do
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
	ActionDelete Action = "delete"
)

// ErrUnknownAction is returned for an action the daemon doesn't handle
var ErrUnknownAction = errors.New("unknown control action")

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionPause, ActionResume, ActionStop, ActionDelete:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// controlFileName is the command file inside the control directory
const controlFileName = "control.json"

// Command is one operator request. An empty AgentID addresses every agent.
type Command struct {
	Action    Action    `json:"action"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int       `json:"seq"` // Sequence number to detect changes
}

// Target is what commands are applied to
type Target interface {
	Pause(id string) error
	Resume(id string) error
	Stop(id string) error
	DeleteAgent(id string) error
	PauseAll()
	ResumeAll()
	StopAll()
}

// Apply runs cmd against t
func Apply(t Target, cmd Command) error {
	all := cmd.AgentID == ""
	switch cmd.Action {
	case ActionPause:
		if all {
			t.PauseAll()
			return nil
		}
		return t.Pause(cmd.AgentID)
	case ActionResume:
		if all {
			t.ResumeAll()
			return nil
		}
		return t.Resume(cmd.AgentID)
	case ActionStop:
		if all {
			t.StopAll()
			return nil
		}
		return t.Stop(cmd.AgentID)
	case ActionDelete:
		if all {
			return fmt.Errorf("delete needs an agent id")
		}
		return t.DeleteAgent(cmd.AgentID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
}

// Channel reads and writes the command file in one directory
type Channel struct {
	dir string
	mu  sync.Mutex
	seq int
}

// NewChannel creates the control directory if needed
func NewChannel(dir string) (*Channel, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create control directory: %w", err)
	}

	ch := &Channel{dir: dir}
	if cmd, err := ch.Read(); err == nil && cmd != nil {
		ch.seq = cmd.Seq
	}
	return ch, nil
}

// Send writes cmd with the next sequence number
func (c *Channel) Send(cmd Command) (Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another process may have written since we last looked
	if cur, err := c.Read(); err == nil && cur != nil && cur.Seq > c.seq {
		c.seq = cur.Seq
	}
	c.seq++
	cmd.Seq = c.seq
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	data, err := json.MarshalIndent(cmd, "", "  ")
	if err != nil {
		return cmd, fmt.Errorf("failed to marshal command: %w", err)
	}

	path := c.Path()
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return cmd, fmt.Errorf("failed to write command file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return cmd, fmt.Errorf("failed to rename command file: %w", err)
	}
	return cmd, nil
}

// Read returns the current command, or nil when none was ever sent
func (c *Channel) Read() (*Command, error) {
	data, err := os.ReadFile(c.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read command file: %w", err)
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	return &cmd, nil
}

// Watch delivers each new command until ctx is done. A command already in
// the file when Watch starts is not replayed.
func (c *Channel) Watch(ctx context.Context) (<-chan Command, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory, the file is replaced on every send
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	var lastSeq int
	if cur, err := c.Read(); err == nil && cur != nil {
		lastSeq = cur.Seq
	}

	out := make(chan Command, 1)
	go func() {
		defer watcher.Close()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != controlFileName || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cmd, err := c.Read()
				if err != nil || cmd == nil || cmd.Seq == lastSeq {
					continue
				}
				lastSeq = cmd.Seq
				select {
				case out <- *cmd:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}

// Path returns the full path to the command file
func (c *Channel) Path() string {
	return filepath.Join(c.dir, controlFileName)
}
