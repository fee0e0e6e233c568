// Package coord is the coordination layer shared by every agent in the pool:
// exclusive task claims, per-agent mailboxes and capability-based help routing.
package coord

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMailboxCap is the number of messages kept per agent before the oldest is dropped
const DefaultMailboxCap = 1000

// dispatchQueueSize bounds pending push deliveries per agent
const dispatchQueueSize = 64

// ErrUnknownAgent is returned when an agent is not registered on the bus
var ErrUnknownAgent = errors.New("agent not registered on bus")

// Handler receives pushed messages on the agent's dispatcher goroutine
type Handler func(Message)

// member is one registered agent
type member struct {
	capability Capability
	messages   []Message
	handler    Handler
	queue      chan Message // nil until a handler is set
	dropped    int
}

// Bus routes messages between agents. Task claims share the coordination
// layer through the embedded Tasks registry.
type Bus struct {
	*Tasks

	mu         sync.RWMutex
	members    map[string]*member
	order      []string // registration order, used for deterministic fan-out
	mailboxCap int
	observers  []func(Message)
	logger     *log.Logger
	now        func() time.Time
	wg         sync.WaitGroup
	closed     bool
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithTasks shares an existing claim registry instead of creating one
func WithTasks(t *Tasks) BusOption {
	return func(b *Bus) {
		b.Tasks = t
	}
}

// WithMailboxCap overrides DefaultMailboxCap
func WithMailboxCap(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.mailboxCap = n
		}
	}
}

// WithObserver registers fn to see every accepted message after delivery
func WithObserver(fn func(Message)) BusOption {
	return func(b *Bus) {
		b.observers = append(b.observers, fn)
	}
}

// NewBus creates a message bus
func NewBus(logger *log.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	b := &Bus{
		members:    make(map[string]*member),
		mailboxCap: DefaultMailboxCap,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.Tasks == nil {
		b.Tasks = NewTasks(WithTaskLogger(logger))
	}
	return b
}

// RegisterAgent adds an agent or replaces its capability if already registered
func (b *Bus) RegisterAgent(id string, c Capability) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m, ok := b.members[id]; ok {
		m.capability = c.clone()
		return
	}
	b.members[id] = &member{capability: c.clone()}
	b.order = append(b.order, id)
}

// UnregisterAgent removes an agent and stops its dispatcher. Pending
// messages for it are discarded.
func (b *Bus) UnregisterAgent(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.members[id]
	if !ok {
		return
	}
	if m.queue != nil {
		close(m.queue)
	}
	delete(b.members, id)
	for i, o := range b.order {
		if o == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// UpdateCapabilities applies fn to the agent's capability under the bus lock
func (b *Bus) UpdateCapabilities(id string, fn func(*Capability)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.members[id]
	if !ok {
		return ErrUnknownAgent
	}
	fn(&m.capability)
	return nil
}

// Capability returns a copy of the agent's capability
func (b *Bus) Capability(id string) (Capability, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.members[id]
	if !ok {
		return Capability{}, false
	}
	return m.capability.clone(), true
}

// Capabilities returns a copy of every registered capability
func (b *Bus) Capabilities() map[string]Capability {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Capability, len(b.members))
	for id, m := range b.members {
		out[id] = m.capability.clone()
	}
	return out
}

// Agents lists registered agents in registration order
func (b *Bus) Agents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// SetMessageHandler enables push delivery for an agent. A nil handler
// returns the agent to pull-only delivery.
func (b *Bus) SetMessageHandler(id string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.members[id]
	if !ok {
		return ErrUnknownAgent
	}

	m.handler = h
	if h == nil {
		if m.queue != nil {
			close(m.queue)
			m.queue = nil
		}
		return nil
	}

	if m.queue == nil && !b.closed {
		m.queue = make(chan Message, dispatchQueueSize)
		b.wg.Add(1)
		go b.dispatch(id, m.queue)
	}
	return nil
}

// dispatch invokes the agent's current handler for each queued message
func (b *Bus) dispatch(id string, queue <-chan Message) {
	defer b.wg.Done()

	for msg := range queue {
		b.mu.RLock()
		var h Handler
		if m, ok := b.members[id]; ok {
			h = m.handler
		}
		b.mu.RUnlock()

		if h != nil {
			h(msg)
		}
	}
}

// GetMessages returns up to limit messages in arrival order. A limit of
// zero or less means no limit.
func (b *Bus) GetMessages(id string, unreadOnly bool, limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.members[id]
	if !ok {
		return nil
	}

	var out []Message
	for _, msg := range m.messages {
		if unreadOnly && msg.Read {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ClearMessages marks the given messages read. Unknown ids are ignored.
func (b *Bus) ClearMessages(id string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	want := make(map[string]struct{}, len(ids))
	for _, i := range ids {
		want[i] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.members[id]
	if !ok {
		return
	}
	for i := range m.messages {
		if _, hit := want[m.messages[i].ID]; hit {
			m.messages[i].Read = true
		}
	}
}

// Send delivers msg to msg.To, or to every other agent when To is empty.
// It returns the number of mailboxes that accepted the message.
func (b *Bus) Send(msg Message) int {
	return b.publish(msg, nil)
}

// ShareDiscovery broadcasts a new fact to every other agent
func (b *Bus) ShareDiscovery(from string, d Discovery) int {
	return b.publish(Message{From: from, Content: d, Priority: PriorityNormal}, nil)
}

// ShareFinding broadcasts a finding to every other agent
func (b *Bus) ShareFinding(from string, f Finding) int {
	prio := PriorityNormal
	if f.Severity == "Critical" || f.Severity == "High" {
		prio = PriorityHigh
	}
	return b.publish(Message{From: from, Content: f, Priority: prio}, nil)
}

// RequestHelp routes a help request to agents whose specializations overlap
// the request. It returns the request message id.
func (b *Bus) RequestHelp(from string, r RequestHelp) string {
	msg := Message{
		ID:       uuid.NewString(),
		From:     from,
		Content:  r,
		Priority: PriorityHigh,
	}
	b.publish(msg, func(_ string, c Capability) bool {
		return len(r.Specializations) == 0 || c.Overlaps(r.Specializations)
	})
	return msg.ID
}

// OfferHelp answers a help request; only the requester receives it
func (b *Bus) OfferHelp(from, to, requestID string, capabilities []string) bool {
	return b.publish(Message{
		From:     from,
		To:       to,
		Content:  OfferHelp{RequestID: requestID, Capabilities: capabilities},
		Priority: PriorityNormal,
	}, nil) > 0
}

// Alert broadcasts a warning to every other agent
func (b *Bus) Alert(from, level, text string) int {
	return b.publish(Message{
		From:     from,
		Content:  Alert{Level: level, Text: text},
		Priority: PriorityHigh,
	}, nil)
}

// publish stamps msg and appends it to each recipient's mailbox. Push
// delivery never blocks: a full dispatch queue drops the push, the message
// stays in the mailbox.
func (b *Bus) publish(msg Message, accept func(id string, c Capability) bool) int {
	if msg.Content == nil {
		return 0
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Type = msg.Content.messageType()
	msg.CreatedAt = b.now()
	msg.Read = false

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}

	delivered := 0
	if msg.To != "" {
		m, ok := b.members[msg.To]
		if !ok {
			b.mu.Unlock()
			b.logger.Printf("Bus: dropped %s from %s to unknown agent %s\n", msg.Type, msg.From, msg.To)
			return 0
		}
		b.appendLocked(msg.To, m, msg)
		delivered = 1
	} else {
		for _, id := range b.order {
			if id == msg.From {
				continue
			}
			m := b.members[id]
			if accept != nil && !accept(id, m.capability) {
				continue
			}
			b.appendLocked(id, m, msg)
			delivered++
		}
	}
	observers := b.observers
	b.mu.Unlock()

	for _, fn := range observers {
		fn(msg)
	}
	return delivered
}

// appendLocked stores msg and queues a push; caller holds b.mu
func (b *Bus) appendLocked(id string, m *member, msg Message) {
	if len(m.messages) >= b.mailboxCap {
		n := len(m.messages) - b.mailboxCap + 1
		m.messages = append(m.messages[:0], m.messages[n:]...)
		m.dropped += n
		b.logger.Printf("Bus: mailbox for %s full, dropped %d oldest message(s)\n", id, n)
	}
	m.messages = append(m.messages, msg)

	if m.queue != nil {
		select {
		case m.queue <- msg:
		default:
			b.logger.Printf("Bus: push queue for %s full, %s left in mailbox\n", id, msg.ID)
		}
	}
}

// Dropped returns how many messages were evicted from an agent's mailbox
func (b *Bus) Dropped(id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if m, ok := b.members[id]; ok {
		return m.dropped
	}
	return 0
}

// Close stops all dispatchers and rejects further messages
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, m := range b.members {
		if m.queue != nil {
			close(m.queue)
			m.queue = nil
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
}
