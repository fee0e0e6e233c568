package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one line of the event log
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventFilter defines filtering options for reading events
type EventFilter struct {
	Type  string
	Since time.Time
	Limit int // newest Limit events; 0 = all
}

// EventLog manages the daily JSONL event files
type EventLog struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewEventLog creates an event log in dir, creating it if needed
func NewEventLog(dir string) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}
	return &EventLog{dir: dir, now: time.Now}, nil
}

// fileFor returns the log file for the day of t
func (l *EventLog) fileFor(t time.Time) string {
	return filepath.Join(l.dir, "agent_system_"+t.Format("20060102")+".log")
}

// Append writes ev to today's file
func (l *EventLog) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}

	f, err := os.OpenFile(l.fileFor(ev.Timestamp), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Read returns the events logged on the day of day that match filter
func (l *EventLog) Read(day time.Time, filter EventFilter) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.fileFor(day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // Skip malformed lines
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && ev.Timestamp.Before(filter.Since) {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[len(events)-filter.Limit:]
	}
	return events, nil
}

// Today returns today's events matching filter
func (l *EventLog) Today(filter EventFilter) ([]Event, error) {
	return l.Read(l.now(), filter)
}
