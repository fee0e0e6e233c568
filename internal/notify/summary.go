package notify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// SummaryReporter batches notifications and appends a digest to a file on
// every interval
type SummaryReporter struct {
	mu            sync.Mutex
	notifications []Notification
	outputPath    string
	interval      time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewSummaryReporter creates a new summary reporter. An empty path writes to stdout.
func NewSummaryReporter(outputPath string, interval time.Duration) *SummaryReporter {
	return &SummaryReporter{
		outputPath: outputPath,
		interval:   interval,
		stopChan:   make(chan struct{}),
	}
}

// Notify adds a notification to the next digest
func (s *SummaryReporter) Notify(notification Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, notification)
	return nil
}

// Start begins the periodic digest
func (s *SummaryReporter) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *SummaryReporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stopChan:
			// Final digest before exiting
			s.flush()
			return
		}
	}
}

// flush writes and clears the pending notifications
func (s *SummaryReporter) flush() error {
	s.mu.Lock()
	pending := s.notifications
	s.notifications = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var output io.Writer = os.Stdout
	if s.outputPath != "" {
		f, err := os.OpenFile(s.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open summary file: %w", err)
		}
		defer f.Close()
		output = f
	}
	return writeDigest(output, pending, time.Now())
}

func writeDigest(w io.Writer, pending []Notification, now time.Time) error {
	typeCounts := make(map[NotificationType]int)
	for _, n := range pending {
		typeCounts[n.Type]++
	}
	types := make([]string, 0, len(typeCounts))
	for typ := range typeCounts {
		types = append(types, string(typ))
	}
	sort.Strings(types)

	fmt.Fprintf(w, "\n=== Notification Summary (%s) ===\n", now.Format(time.RFC3339))
	fmt.Fprintf(w, "Total notifications: %d\n", len(pending))
	for _, typ := range types {
		fmt.Fprintf(w, "  %s: %d\n", typ, typeCounts[NotificationType(typ)])
	}

	// Last 10 only
	fmt.Fprintf(w, "\nRecent notifications:\n")
	start := len(pending) - 10
	if start < 0 {
		start = 0
	}
	for _, n := range pending[start:] {
		fmt.Fprintf(w, "  [%s] %s: %s - %s\n", n.Timestamp.Format("15:04:05"), n.Type, n.Title, n.Message)
	}
	_, err := fmt.Fprintf(w, "\n")
	return err
}

// Close stops the reporter after a final digest. Safe to call twice.
func (s *SummaryReporter) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}
