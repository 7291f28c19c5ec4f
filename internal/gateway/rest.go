package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RESTAdapter serves chat over HTTP: each POST opens a one-shot channel
// and waits for the reply.
type RESTAdapter struct {
	handler  MessageHandler
	channels map[string]chan *OutboundMessage
	timeout  time.Duration
	state    connState
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRESTAdapter creates a REST adapter. Replies slower than timeout get a
// 504; zero means two minutes.
func NewRESTAdapter(timeout time.Duration, logger *zap.Logger) *RESTAdapter {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RESTAdapter{
		channels: make(map[string]chan *OutboundMessage),
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(context.Context) error {
	a.mu.Lock()
	a.state.up()
	a.mu.Unlock()
	return nil
}

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error {
	a.mu.Lock()
	a.state.down("")
	a.mu.Unlock()
	return nil
}

func (a *RESTAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.state.status("rest")
	s.Details = fmt.Sprintf("pending=%d", len(a.channels))
	return s
}

// Send delivers a reply to a waiting request.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.channels[msg.ChannelID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active channel: %s", msg.ChannelID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("channel %s already answered", msg.ChannelID)
	}
}

// Broadcast is delivered to requests still waiting for a reply.
func (a *RESTAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for id, ch := range a.channels {
		select {
		case ch <- &OutboundMessage{
			Platform:  "rest",
			ChannelID: id,
			Role:      msg.Role,
			Content:   fmt.Sprintf("[%s] %s\n%s", msg.Type, msg.Title, msg.Content),
		}:
		default:
		}
	}
	return nil
}

// Routes returns the REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

type restRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Content  string `json:"content"`
}

func restError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req restRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		restError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		restError(w, http.StatusBadRequest, "content is required")
		return
	}
	if a.handler == nil {
		restError(w, http.StatusServiceUnavailable, "gateway not ready")
		return
	}

	channelID := uuid.New().String()
	ch := make(chan *OutboundMessage, 1)
	a.mu.Lock()
	a.channels[channelID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.channels, channelID)
		a.mu.Unlock()
	}()

	// The handler may run the crew inline, so it gets its own goroutine and
	// the request waits on the channel.
	go a.handler(&InboundMessage{
		Platform:  "rest",
		ChannelID: channelID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Content:   req.Content,
		Timestamp: time.Now(),
	})

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msg)
	case <-timer.C:
		a.logger.Warn("rest reply timed out", zap.String("channel", channelID))
		restError(w, http.StatusGatewayTimeout, "response timeout")
	case <-r.Context().Done():
	}
}
