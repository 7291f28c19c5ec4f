package gateway

import (
	"context"
	"time"
)

// Adapter connects one chat platform to finsight.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Broadcast(ctx context.Context, msg *BroadcastMessage) error
	Status() AdapterStatus
	Close() error
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a reply to one platform channel. Role selects the
// persona the reply is shown under, if the adapter has one.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// BroadcastType categorizes broadcast messages.
type BroadcastType string

const (
	BroadcastAnnouncement BroadcastType = "announcement"
	BroadcastTaskComplete BroadcastType = "task_complete"
	BroadcastTaskFailed   BroadcastType = "task_failed"
)

// BroadcastMessage goes to every platform, or only to Platforms if set.
type BroadcastMessage struct {
	Type      BroadcastType `json:"type"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Role      string        `json:"role,omitempty"`
	Platforms []string      `json:"platforms,omitempty"`
}

// Persona is how a worker role appears on a chat platform.
type Persona struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
	Emoji   string `json:"emoji,omitempty"` // used when IconURL is empty, e.g. ":bar_chart:"
}

// AdapterStatus reports an adapter's connection state.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// connState is the bookkeeping shared by adapters for Status.
type connState struct {
	connected   bool
	connectedAt time.Time
	lastError   string
}

func (c *connState) up() {
	c.connected = true
	c.connectedAt = time.Now()
	c.lastError = ""
}

func (c *connState) down(err string) {
	c.connected = false
	c.lastError = err
}

func (c *connState) status(platform string) AdapterStatus {
	s := AdapterStatus{Platform: platform, Connected: c.connected, Error: c.lastError}
	if c.connected {
		t := c.connectedAt
		s.ConnectedAt = &t
	}
	return s
}
