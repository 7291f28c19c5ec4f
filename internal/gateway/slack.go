package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter connects through Socket Mode and replies in threads.
type SlackAdapter struct {
	client   *slack.Client
	socket   *socketmode.Client
	handler  MessageHandler
	personas map[string]*Persona // role -> persona
	state    connState
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewSlackAdapter creates a Slack adapter from a bot token (xoxb-...) and
// an app-level token (xapp-...).
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &SlackAdapter{
		client:   client,
		socket:   socketmode.New(client, socketmode.OptionLog(zap.NewStdLog(logger))),
		personas: make(map[string]*Persona),
		logger:   logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona sets how replies for role are displayed.
func (a *SlackAdapter) SetPersona(role string, p *Persona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[role] = p
}

// Connect starts the Socket Mode loop; it runs until ctx is cancelled.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode error", zap.Error(err))
			a.mu.Lock()
			a.state.down(err.Error())
			a.mu.Unlock()
		}
	}()
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.mu.Lock()
		a.state.up()
		a.mu.Unlock()
		a.logger.Info("slack socket mode connected")

	case socketmode.EventTypeConnectionError:
		a.mu.Lock()
		a.state.down(fmt.Sprint(evt.Data))
		a.mu.Unlock()

	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent); ok && ev.BotID == "" {
			a.dispatch(ev)
		}
	}
}

func (a *SlackAdapter) dispatch(ev *slackevents.MessageEvent) {
	if a.handler == nil {
		return
	}
	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
		ReplyTo:   thread,
	})
}

// Send posts a reply, threaded when ReplyTo is set.
func (a *SlackAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	opts = append(opts, a.personaOpts(msg.Role)...)

	if _, _, err := a.client.PostMessage(msg.ChannelID, opts...); err != nil {
		a.logger.Error("slack send failed", zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (a *SlackAdapter) personaOpts(role string) []slack.MsgOption {
	a.mu.RLock()
	p, ok := a.personas[role]
	a.mu.RUnlock()
	if !ok || role == "" {
		return nil
	}
	opts := []slack.MsgOption{slack.MsgOptionUsername(p.Name)}
	switch {
	case p.IconURL != "":
		opts = append(opts, slack.MsgOptionIconURL(p.IconURL))
	case p.Emoji != "":
		opts = append(opts, slack.MsgOptionIconEmoji(p.Emoji))
	}
	return opts
}

// Broadcast posts to every channel the bot is a member of.
func (a *SlackAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	opts := append([]slack.MsgOption{
		slack.MsgOptionText(fmt.Sprintf("*[%s] %s*\n%s", msg.Type, msg.Title, msg.Content), false),
	}, a.personaOpts(msg.Role)...)

	channels, _, err := a.client.GetConversationsForUser(&slack.GetConversationsForUserParameters{
		Types: []string{"public_channel", "private_channel"},
		Limit: 200,
	})
	if err != nil {
		return fmt.Errorf("slack list channels: %w", err)
	}
	for _, ch := range channels {
		if _, _, err := a.client.PostMessage(ch.ID, opts...); err != nil {
			a.logger.Warn("slack broadcast to channel failed", zap.String("channel", ch.ID), zap.Error(err))
		}
	}
	return nil
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.status("slack")
}

// Close marks the adapter down; cancelling the Connect context stops the
// socket.
func (a *SlackAdapter) Close() error {
	a.mu.Lock()
	a.state.down("")
	a.mu.Unlock()
	return nil
}
