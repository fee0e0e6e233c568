package coord

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

func newTestBus(opts ...BusOption) *Bus {
	return NewBus(log.New(io.Discard, "", 0), opts...)
}

func TestBroadcastSkipsSender(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	bus.RegisterAgent("a", Capability{})
	bus.RegisterAgent("b", Capability{})
	bus.RegisterAgent("c", Capability{})

	n := bus.ShareDiscovery("a", Discovery{Kind: DiscoveryPort, Target: "host", Key: "22", Detail: "ssh"})
	if n != 2 {
		t.Errorf("expected 2 recipients, got %d", n)
	}
	if len(bus.GetMessages("a", true, 0)) != 0 {
		t.Error("sender should not receive its own broadcast")
	}

	msgs := bus.GetMessages("b", true, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message for b, got %d", len(msgs))
	}
	if msgs[0].Type != TypeDiscovery {
		t.Errorf("expected discovery, got %s", msgs[0].Type)
	}
	d, ok := msgs[0].Content.(Discovery)
	if !ok || d.Key != "22" {
		t.Errorf("unexpected content %#v", msgs[0].Content)
	}
	if msgs[0].ID == "" {
		t.Error("expected message id to be assigned")
	}
}

func TestMailboxOrderAndClear(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	bus.RegisterAgent("a", Capability{})
	bus.RegisterAgent("b", Capability{})

	bus.Alert("a", "info", "first")
	bus.Alert("a", "info", "second")
	bus.Alert("a", "info", "third")

	msgs := bus.GetMessages("b", true, 2)
	if len(msgs) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(msgs))
	}
	if msgs[0].Content.(Alert).Text != "first" || msgs[1].Content.(Alert).Text != "second" {
		t.Error("expected arrival order")
	}

	bus.ClearMessages("b", msgs[0].ID, msgs[1].ID)
	bus.ClearMessages("b", msgs[0].ID) // idempotent

	unread := bus.GetMessages("b", true, 0)
	if len(unread) != 1 || unread[0].Content.(Alert).Text != "third" {
		t.Errorf("expected only third unread, got %v", unread)
	}

	all := bus.GetMessages("b", false, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 total messages, got %d", len(all))
	}
}

func TestMailboxCapDropsOldest(t *testing.T) {
	bus := newTestBus(WithMailboxCap(3))
	defer bus.Close()

	bus.RegisterAgent("a", Capability{})
	bus.RegisterAgent("b", Capability{})

	for _, text := range []string{"1", "2", "3", "4", "5"} {
		bus.Alert("a", "info", text)
	}

	msgs := bus.GetMessages("b", false, 0)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content.(Alert).Text != "3" {
		t.Errorf("expected oldest surviving message to be 3, got %s", msgs[0].Content.(Alert).Text)
	}
	if bus.Dropped("b") != 2 {
		t.Errorf("expected 2 dropped, got %d", bus.Dropped("b"))
	}
}

func TestDirectMessageToUnknownAgentDropped(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	bus.RegisterAgent("a", Capability{})
	if bus.OfferHelp("a", "ghost", "req-1", nil) {
		t.Error("expected delivery to unknown agent to fail")
	}
}

func TestHelpRoutingByCapability(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	bus.RegisterAgent("asker", Capability{Specializations: []string{"general"}})
	bus.RegisterAgent("web", Capability{Specializations: []string{"web_scanning", "directory_enum"}})
	bus.RegisterAgent("net", Capability{Specializations: []string{"network_recon"}})

	reqID := bus.RequestHelp("asker", RequestHelp{Task: "enumerate /admin", Specializations: []string{"directory_enum"}})
	if reqID == "" {
		t.Fatal("expected request id")
	}

	if len(bus.GetMessages("net", true, 0)) != 0 {
		t.Error("non-matching agent should not receive the request")
	}
	webMsgs := bus.GetMessages("web", true, 0)
	if len(webMsgs) != 1 || webMsgs[0].ID != reqID {
		t.Fatalf("expected matching agent to receive request %s, got %v", reqID, webMsgs)
	}

	if !bus.OfferHelp("web", "asker", reqID, []string{"directory_enum"}) {
		t.Fatal("expected offer to be delivered")
	}
	offers := bus.GetMessages("asker", true, 0)
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(offers))
	}
	offer := offers[0].Content.(OfferHelp)
	if offer.RequestID != reqID {
		t.Errorf("expected offer for %s, got %s", reqID, offer.RequestID)
	}
	if len(bus.GetMessages("net", true, 0)) != 0 {
		t.Error("offer must only reach the requester")
	}
}

func TestPushDelivery(t *testing.T) {
	bus := newTestBus()

	bus.RegisterAgent("a", Capability{})
	bus.RegisterAgent("b", Capability{})

	received := make(chan Message, 1)
	if err := bus.SetMessageHandler("b", func(m Message) { received <- m }); err != nil {
		t.Fatalf("SetMessageHandler failed: %v", err)
	}

	bus.ShareFinding("a", Finding{Target: "host", Severity: "High", Content: "exposed admin"})

	select {
	case m := <-received:
		if m.Type != TypeFinding {
			t.Errorf("expected finding, got %s", m.Type)
		}
		if m.Priority != PriorityHigh {
			t.Errorf("expected high priority for High finding, got %d", m.Priority)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed message")
	}

	// Pushed messages stay available to pull readers
	if len(bus.GetMessages("b", true, 0)) != 1 {
		t.Error("expected pushed message to remain in mailbox")
	}

	bus.Close()
	if bus.Alert("a", "info", "after close") != 0 {
		t.Error("closed bus should reject messages")
	}
}

func TestSlowHandlerDoesNotBlockSender(t *testing.T) {
	bus := newTestBus()

	bus.RegisterAgent("a", Capability{})
	bus.RegisterAgent("b", Capability{})

	release := make(chan struct{})
	bus.SetMessageHandler("b", func(Message) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < dispatchQueueSize*3; i++ {
			bus.Alert("a", "info", "spam")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender blocked on slow handler")
	}

	close(release)
	bus.Close()
}

func TestUpdateCapabilities(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	if err := bus.UpdateCapabilities("ghost", func(*Capability) {}); err != ErrUnknownAgent {
		t.Errorf("expected ErrUnknownAgent, got %v", err)
	}

	bus.RegisterAgent("a", Capability{Specializations: []string{"osint"}})
	bus.UpdateCapabilities("a", func(c *Capability) {
		c.FindingsCount = 4
		c.Status = "running"
	})

	c, ok := bus.Capability("a")
	if !ok {
		t.Fatal("expected capability")
	}
	if c.FindingsCount != 4 || c.Status != "running" {
		t.Errorf("unexpected capability %+v", c)
	}

	// Returned copies are detached
	c.Specializations[0] = "mutated"
	again, _ := bus.Capability("a")
	if again.Specializations[0] != "osint" {
		t.Error("capability copy leaked internal slice")
	}
}

func TestObserverSeesMessages(t *testing.T) {
	var mu sync.Mutex
	var seen []MessageType

	bus := newTestBus(WithObserver(func(m Message) {
		mu.Lock()
		seen = append(seen, m.Type)
		mu.Unlock()
	}))
	defer bus.Close()

	bus.RegisterAgent("a", Capability{})
	bus.RegisterAgent("b", Capability{})
	bus.Alert("a", "warn", "disk")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != TypeAlert {
		t.Errorf("expected observer to see one alert, got %v", seen)
	}
}

func TestUnregisterAgent(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	bus.RegisterAgent("a", Capability{})
	bus.RegisterAgent("b", Capability{})
	bus.SetMessageHandler("b", func(Message) {})
	bus.UnregisterAgent("b")

	if n := bus.Alert("a", "info", "x"); n != 0 {
		t.Errorf("expected no recipients after unregister, got %d", n)
	}
	if len(bus.Agents()) != 1 {
		t.Errorf("expected 1 agent, got %d", len(bus.Agents()))
	}
}

func TestBusSharesTaskRegistry(t *testing.T) {
	tasks := NewTasks()
	bus := newTestBus(WithTasks(tasks))
	defer bus.Close()

	if !bus.ClaimTask("a", "t1") {
		t.Fatal("expected claim through bus")
	}
	if tasks.IsTaskAvailable("t1") {
		t.Error("claim through bus should be visible on shared registry")
	}
}

func TestMessageSummary(t *testing.T) {
	m := Message{Content: Discovery{Kind: DiscoveryPort, Key: "443", Detail: "https"}}
	if m.Summary() != "port 443 (https)" {
		t.Errorf("unexpected summary %q", m.Summary())
	}
	m = Message{Content: Finding{Severity: "High", Content: "x"}}
	if m.Summary() != "[High] x" {
		t.Errorf("unexpected summary %q", m.Summary())
	}
}
