package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/finsight/internal/command"
	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"go.uber.org/zap"
)

// Sender delivers replies to a platform channel.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter routes inbound chat messages to the command registry or the
// analysis crew.
type MessageRouter struct {
	analyzer command.Analyzer
	sender   Sender
	commands *command.Registry
	timeout  time.Duration
	logger   *zap.Logger

	// singleReply lists platforms that accept only one reply per message.
	singleReply map[string]bool
}

// New creates a new MessageRouter.
func New(analyzer command.Analyzer, sender Sender, commands *command.Registry, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		analyzer:    analyzer,
		sender:      sender,
		commands:    commands,
		timeout:     5 * time.Minute,
		logger:      logger,
		singleReply: map[string]bool{"rest": true},
	}
}

// Handle routes an inbound message. Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), mr.timeout)
	defer cancel()

	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		mr.sendReply(ctx, msg, "", "Send a question, or /help for commands.")
		return
	}

	if command.IsCommand(content) && mr.commands != nil {
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		}
		result, err := mr.commands.Dispatch(ctx, content, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			mr.sendReply(ctx, msg, "", "Command error: "+err.Error())
			return
		}
		mr.sendReply(ctx, msg, "", result.Content)
		return
	}

	a, err := mr.analyzer.Analyze(ctx, orchestrator.RunInputs{Query: content})
	if err != nil {
		mr.logger.Error("analysis failed", zap.Error(err))
		mr.sendReply(ctx, msg, "", fmt.Sprintf("Analysis error: %s", err.Error()))
		return
	}
	mr.sendResult(ctx, msg, a.Result)
}

// sendResult replies with one message per task, shown under the task's
// role, or a single combined message where the platform takes only one.
func (mr *MessageRouter) sendResult(ctx context.Context, msg *gateway.InboundMessage, res *orchestrator.Aggregated) {
	if mr.singleReply[msg.Platform] || res.Len() == 0 {
		mr.sendReply(ctx, msg, "", res.Format())
		return
	}
	for _, key := range res.Keys() {
		o, _ := res.Get(key)
		if o.Failed() {
			mr.sendReply(ctx, msg, "", fmt.Sprintf("%s failed: %s", key, o.Error))
			continue
		}
		mr.sendReply(ctx, msg, o.Role, o.Summary)
	}
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, role, text string) {
	err := mr.sender.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Role:      role,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
