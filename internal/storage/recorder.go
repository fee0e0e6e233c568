package storage

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabe/swarm/internal/agent"
)

// DefaultQueueSize is the recorder's buffer when none is given
const DefaultQueueSize = 1024

type recordKind int

const (
	recordEvent recordKind = iota
	recordFinding
	recordExecution
	recordConversation
)

// record is one queued write
type record struct {
	kind      recordKind
	event     Event
	finding   agent.Finding
	agentID   string
	execution agent.Execution
	role      string
	content   string
	iteration int
}

// Recorder writes worker records on a single background goroutine. Callers
// never block: when the queue is full the record is dropped and logged.
type Recorder struct {
	store  *Store
	events *EventLog
	logger *log.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan record
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

var _ agent.Recorder = (*Recorder)(nil)

// NewRecorder starts a recorder. Either store or events may be nil.
func NewRecorder(store *Store, events *EventLog, logger *log.Logger, queueSize int) *Recorder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		store:  store,
		events: events,
		logger: logger,
		queue:  make(chan record, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		r.logger.Printf("Recorder: queue full, dropped record of kind %d\n", rec.kind)
	}
}

// LogEvent queues an event log entry
func (r *Recorder) LogEvent(eventType, message string, metadata map[string]any) {
	r.enqueue(record{kind: recordEvent, event: Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Message:   message,
		Metadata:  metadata,
	}})
}

// SaveFinding queues a finding
func (r *Recorder) SaveFinding(f agent.Finding) {
	r.enqueue(record{kind: recordFinding, finding: f})
}

// SaveExecution queues an executed command
func (r *Recorder) SaveExecution(agentID string, e agent.Execution) {
	r.enqueue(record{kind: recordExecution, agentID: agentID, execution: e})
}

// SaveConversation queues one side of an exchange
func (r *Recorder) SaveConversation(agentID, role, content string, iteration int) {
	r.enqueue(record{kind: recordConversation, agentID: agentID, role: role, content: content, iteration: iteration})
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		if err := r.write(rec); err != nil {
			r.failed.Add(1)
			r.logger.Printf("Recorder: write failed: %v\n", err)
		}
	}
}

func (r *Recorder) write(rec record) error {
	switch rec.kind {
	case recordEvent:
		if r.events != nil {
			return r.events.Append(rec.event)
		}
	case recordFinding:
		if r.store != nil {
			return r.store.SaveFinding(rec.finding)
		}
	case recordExecution:
		if r.store != nil {
			return r.store.SaveExecution(rec.agentID, rec.execution)
		}
	case recordConversation:
		if r.store != nil {
			return r.store.SaveConversation(rec.agentID, rec.role, rec.content, rec.iteration)
		}
	}
	return nil
}

// Dropped returns how many records were lost to a full queue
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Failed returns how many writes returned an error
func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}

// Close stops accepting records and waits for the queue to drain
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}
