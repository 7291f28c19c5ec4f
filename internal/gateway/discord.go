package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter connects through the Discord bot gateway.
type DiscordAdapter struct {
	token    string
	session  *discordgo.Session
	handler  MessageHandler
	personas map[string]*Persona // role -> persona
	webhooks map[string]string   // channelID -> webhook URL
	state    connState
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewDiscordAdapter creates a Discord adapter for a bot token.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		personas: make(map[string]*Persona),
		webhooks: make(map[string]string),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona sets how replies for role are displayed.
func (a *DiscordAdapter) SetPersona(role string, p *Persona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[role] = p
}

// SetWebhook registers a channel webhook used for persona replies.
func (a *DiscordAdapter) SetWebhook(channelID, webhookURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhooks[channelID] = webhookURL
}

// Connect opens the gateway websocket.
func (a *DiscordAdapter) Connect(context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.fail(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		a.fail(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.state.up()
	a.mu.Unlock()

	guilds := len(session.State.Guilds)
	if guilds == 0 {
		a.logger.Warn("discord bot is not in any server")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", guilds))
	return nil
}

func (a *DiscordAdapter) fail(reason string) {
	a.mu.Lock()
	a.state.down(reason)
	a.mu.Unlock()
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if a.handler == nil {
		return
	}
	a.handler(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	})
}

// Send posts a reply. With a webhook and persona for the channel the
// reply carries the persona's name and avatar; otherwise the persona name
// is prefixed.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	session := a.session
	webhookURL := a.webhooks[msg.ChannelID]
	persona, hasPersona := a.personas[msg.Role]
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord send: not connected")
	}

	if webhookURL != "" && hasPersona {
		return a.sendViaWebhook(session, webhookURL, persona, msg.Content)
	}
	content := msg.Content
	if hasPersona {
		content = fmt.Sprintf("**[%s]** %s", persona.Name, msg.Content)
	}
	if _, err := session.ChannelMessageSend(msg.ChannelID, content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (a *DiscordAdapter) sendViaWebhook(session *discordgo.Session, webhookURL string, p *Persona, content string) error {
	webhook, err := session.WebhookWithToken(webhookURL, "")
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	params := &discordgo.WebhookParams{Content: content, Username: p.Name, AvatarURL: p.IconURL}
	if _, err := session.WebhookExecute(webhook.ID, webhook.Token, false, params); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// Broadcast posts to the first writable text channel of every guild.
func (a *DiscordAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord broadcast: not connected")
	}

	content := fmt.Sprintf("**[%s] %s**\n%s", msg.Type, msg.Title, msg.Content)
	for _, guild := range session.State.Guilds {
		channels, err := session.GuildChannels(guild.ID)
		if err != nil {
			a.logger.Warn("discord list channels failed", zap.String("guild", guild.ID), zap.Error(err))
			continue
		}
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			if _, err := session.ChannelMessageSend(ch.ID, content); err == nil {
				break
			}
		}
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.state.status("discord")
	if a.state.connected && a.session != nil && a.session.State != nil && a.session.State.User != nil {
		s.Details = fmt.Sprintf("bot=%s, guilds=%d", a.session.State.User.Username, len(a.session.State.Guilds))
	}
	return s
}

// Close shuts down the session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.state.down("")
	a.mu.Unlock()
	if session != nil {
		return session.Close()
	}
	return nil
}
