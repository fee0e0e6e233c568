package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabe/swarm/internal/coord"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the redis stream bus messages are mirrored to
const DefaultStream = "swarm.messages"

// NewRedisClient connects to a redis:// url
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// StreamMirror copies bus messages to a redis stream for external consumers.
// Observe never blocks the bus; a full buffer drops the message.
type StreamMirror struct {
	rdb     *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *log.Logger

	mu       sync.RWMutex
	closed   bool
	queue    chan coord.Message
	done     chan struct{}
	mirrored atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// NewStreamMirror starts mirroring into stream, trimmed to about maxLen entries
func NewStreamMirror(rdb *redis.Client, stream string, maxLen int64, logger *log.Logger) *StreamMirror {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &StreamMirror{
		rdb:     rdb,
		stream:  stream,
		maxLen:  maxLen,
		timeout: 2 * time.Second,
		logger:  logger,
		queue:   make(chan coord.Message, 256),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

// Observe is a bus observer
func (m *StreamMirror) Observe(msg coord.Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- msg:
	default:
		m.dropped.Add(1)
	}
}

func (m *StreamMirror) run() {
	defer close(m.done)
	for msg := range m.queue {
		if err := m.add(msg); err != nil {
			// Log only the first failure of a burst
			if m.failed.Add(1) == 1 {
				m.logger.Printf("Mirror: XADD to %s failed: %v\n", m.stream, err)
			}
			continue
		}
		m.failed.Store(0)
		m.mirrored.Add(1)
	}
}

func (m *StreamMirror) add(msg coord.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: m.stream,
		Values: map[string]interface{}{
			"id":         msg.ID,
			"from":       msg.From,
			"to":         msg.To,
			"type":       string(msg.Type),
			"priority":   int(msg.Priority),
			"content":    string(content),
			"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}
	return m.rdb.XAdd(ctx, args).Err()
}

// Mirrored returns how many messages reached redis
func (m *StreamMirror) Mirrored() int64 {
	return m.mirrored.Load()
}

// Dropped returns how many messages were lost to a full buffer
func (m *StreamMirror) Dropped() int64 {
	return m.dropped.Load()
}

// Close drains pending messages and closes the redis client
func (m *StreamMirror) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	<-m.done
	return m.rdb.Close()
}
