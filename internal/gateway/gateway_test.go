package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform     string
	handler      MessageHandler
	connectErr   error
	broadcastErr error
	mu           sync.Mutex
	sent         []*OutboundMessage
	broadcasts   []*BroadcastMessage
	closed       bool
}

func (f *fakeAdapter) Platform() string              { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error { return f.connectErr }
func (f *fakeAdapter) OnMessage(h MessageHandler)    { f.handler = h }

func (f *fakeAdapter) Status() AdapterStatus {
	return AdapterStatus{Platform: f.platform, Connected: f.connectErr == nil}
}

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

func (f *fakeAdapter) Send(_ context.Context, m *OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeAdapter) Broadcast(_ context.Context, m *BroadcastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, m)
	return f.broadcastErr
}

func TestGatewayRoutesInboundAndOutbound(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	slack := &fakeAdapter{platform: "slack"}
	gw.Register(slack)

	var got *InboundMessage
	gw.SetHandler(func(m *InboundMessage) { got = m })
	slack.handler(&InboundMessage{Platform: "slack", Content: "hi"})
	if got == nil || got.Content != "hi" {
		t.Fatalf("handler not called: %+v", got)
	}

	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "slack", Content: "yo"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(slack.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(slack.sent))
	}
	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "irc"}); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestGatewayConnectAllContinuesPastFailures(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	bad := &fakeAdapter{platform: "discord", connectErr: errors.New("no token")}
	good := &fakeAdapter{platform: "rest"}
	gw.Register(bad)
	gw.Register(good)

	err := gw.ConnectAll(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	statuses := gw.StatusAll()
	if len(statuses) != 2 || statuses[0].Platform != "discord" || statuses[1].Platform != "rest" {
		t.Fatalf("statuses not sorted: %+v", statuses)
	}
	if statuses[0].Connected || !statuses[1].Connected {
		t.Errorf("unexpected connection state: %+v", statuses)
	}

	gw.Close()
	if !bad.closed || !good.closed {
		t.Error("adapters not closed")
	}
}

func TestBroadcasterHistory(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	a := &fakeAdapter{platform: "a"}
	b := &fakeAdapter{platform: "b", broadcastErr: errors.New("down")}
	gw.Register(a)
	gw.Register(b)
	bc := NewBroadcaster(gw, zap.NewNop())

	if err := bc.Send(context.Background(), &BroadcastMessage{}); err == nil {
		t.Error("expected error for missing type")
	}

	err := bc.Send(context.Background(), &BroadcastMessage{Type: BroadcastTaskComplete, Title: "job done"})
	if err == nil {
		t.Error("expected partial failure error")
	}
	hist := bc.History(0)
	if len(hist) != 1 {
		t.Fatalf("got %d records, want 1", len(hist))
	}
	if len(hist[0].Targets) != 1 || hist[0].Targets[0] != "a" {
		t.Errorf("targets = %v, want [a]", hist[0].Targets)
	}

	if err := bc.Send(context.Background(), &BroadcastMessage{Type: BroadcastAnnouncement, Platforms: []string{"a"}}); err != nil {
		t.Fatalf("targeted broadcast: %v", err)
	}
	if len(b.broadcasts) != 1 {
		t.Errorf("platform filter ignored: b got %d broadcasts", len(b.broadcasts))
	}
	if last := bc.History(1); len(last) != 1 || last[0].Message.Type != BroadcastAnnouncement {
		t.Errorf("History(1) = %+v", last)
	}
}

func TestBroadcasterHistoryBounded(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	bc := NewBroadcaster(gw, zap.NewNop())
	for i := 0; i < historyLimit+10; i++ {
		bc.Send(context.Background(), &BroadcastMessage{Type: BroadcastAnnouncement})
	}
	if n := len(bc.History(0)); n != historyLimit {
		t.Errorf("history = %d, want %d", n, historyLimit)
	}
}

func TestRESTAdapterRoundTrip(t *testing.T) {
	rest := NewRESTAdapter(5*time.Second, zap.NewNop())
	gw := NewGateway(zap.NewNop())
	gw.Register(rest)
	gw.SetHandler(func(m *InboundMessage) {
		gw.Send(context.Background(), &OutboundMessage{
			Platform:  m.Platform,
			ChannelID: m.ChannelID,
			Content:   "echo: " + m.Content,
		})
	})
	if err := gw.ConnectAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(rest.Routes())
	defer srv.Close()

	body, _ := json.Marshal(restRequest{UserID: "u1", Content: "hello"})
	resp, err := http.Post(srv.URL+"/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out OutboundMessage
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Content != "echo: hello" || out.Platform != "rest" {
		t.Errorf("reply = %+v", out)
	}
	if !rest.Status().Connected {
		t.Error("rest adapter should report connected")
	}
}

func TestRESTAdapterRejectsBadInput(t *testing.T) {
	rest := NewRESTAdapter(time.Second, zap.NewNop())
	srv := httptest.NewServer(rest.Routes())
	defer srv.Close()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"empty content", `{"content":""}`, http.StatusBadRequest},
		{"no handler", `{"content":"hi"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/message", "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRESTAdapterTimeout(t *testing.T) {
	rest := NewRESTAdapter(50*time.Millisecond, zap.NewNop())
	rest.OnMessage(func(*InboundMessage) {})
	srv := httptest.NewServer(rest.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", bytes.NewBufferString(`{"content":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
	if err := rest.Send(context.Background(), &OutboundMessage{ChannelID: "gone"}); err == nil {
		t.Error("expected error for closed channel")
	}
}

func TestSlackPersonaOptions(t *testing.T) {
	a := NewSlackAdapter("xoxb-test", "xapp-test", zap.NewNop())
	a.SetPersona("Senior Financial Analyst", &Persona{Name: "Analyst", Emoji: ":bar_chart:"})

	if opts := a.personaOpts("Senior Financial Analyst"); len(opts) != 2 {
		t.Errorf("got %d options, want 2", len(opts))
	}
	if opts := a.personaOpts("unknown"); opts != nil {
		t.Errorf("unknown role should have no options")
	}
	if a.Status().Connected {
		t.Error("slack should start disconnected")
	}
}

func TestDiscordNotConnected(t *testing.T) {
	a := NewDiscordAdapter("token", zap.NewNop())
	if err := a.Send(context.Background(), &OutboundMessage{ChannelID: "c"}); err == nil {
		t.Error("expected error before Connect")
	}
	if err := a.Broadcast(context.Background(), &BroadcastMessage{Type: BroadcastAnnouncement}); err == nil {
		t.Error("expected error before Connect")
	}
	if s := a.Status(); s.Connected || s.Platform != "discord" {
		t.Errorf("status = %+v", s)
	}
	if err := a.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
