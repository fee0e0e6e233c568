package coord

import "time"

// MessageType identifies the payload carried by a message
type MessageType string

const (
	TypeDiscovery   MessageType = "discovery"
	TypeFinding     MessageType = "finding"
	TypeRequestHelp MessageType = "request_help"
	TypeOfferHelp   MessageType = "offer_help"
	TypeAlert       MessageType = "alert"
)

// Priority orders messages for readers that care; delivery is always FIFO
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Content is the payload of a message. The set of variants is closed.
type Content interface {
	messageType() MessageType
}

// DiscoveryKind names the kind of fact a Discovery carries
type DiscoveryKind string

const (
	DiscoveryPort      DiscoveryKind = "port"
	DiscoveryDirectory DiscoveryKind = "directory"
	DiscoverySubdomain DiscoveryKind = "subdomain"
)

// Discovery announces a newly observed fact about a target
type Discovery struct {
	Kind   DiscoveryKind `json:"kind"`
	Target string        `json:"target"`
	Key    string        `json:"key"`
	Detail string        `json:"detail,omitempty"`
}

// Finding shares a classified finding with the team
type Finding struct {
	Target   string `json:"target"`
	Severity string `json:"severity"`
	Content  string `json:"content"`
}

// RequestHelp asks agents with matching specializations for assistance
type RequestHelp struct {
	Task            string   `json:"task"`
	Specializations []string `json:"specializations"`
	Reason          string   `json:"reason,omitempty"`
}

// OfferHelp answers a RequestHelp
type OfferHelp struct {
	RequestID    string   `json:"request_id"`
	Capabilities []string `json:"capabilities"`
}

// Alert is a free-form warning broadcast to the team
type Alert struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func (Discovery) messageType() MessageType   { return TypeDiscovery }
func (Finding) messageType() MessageType     { return TypeFinding }
func (RequestHelp) messageType() MessageType { return TypeRequestHelp }
func (OfferHelp) messageType() MessageType   { return TypeOfferHelp }
func (Alert) messageType() MessageType       { return TypeAlert }

// Message is one mailbox entry. To is empty for broadcasts.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to,omitempty"`
	Type      MessageType `json:"type"`
	Content   Content     `json:"content"`
	Priority  Priority    `json:"priority"`
	CreatedAt time.Time   `json:"created_at"`
	Read      bool        `json:"read"`
}

// Summary renders the payload as a single line for prompts and logs
func (m Message) Summary() string {
	switch c := m.Content.(type) {
	case Discovery:
		if c.Detail != "" {
			return string(c.Kind) + " " + c.Key + " (" + c.Detail + ")"
		}
		return string(c.Kind) + " " + c.Key
	case Finding:
		return "[" + c.Severity + "] " + c.Content
	case RequestHelp:
		return "needs help with " + c.Task
	case OfferHelp:
		return "can help with request " + c.RequestID
	case Alert:
		return c.Level + ": " + c.Text
	default:
		return ""
	}
}
