package provider

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Capability turns a prompt into text. Implementations may fail; callers
// are expected to contain the failure.
type Capability interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, prompt string) (string, error)

func (f CapabilityFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// FinancialKeywords is the default scan list, in scan order.
var FinancialKeywords = []string{
	"revenue", "net income", "profit", "loss", "ebitda", "cash",
	"assets", "liabilities", "earnings", "guidance", "margin", "debt",
}

const (
	emptyPromptMarker = "(no content)"
	windowSeparator   = "\n---\n"
)

// KeywordWindow is the offline capability. For the first occurrence of each
// keyword it cuts a window of Before characters ahead and After characters
// from the match, in keyword order. Without any match it returns the first
// Fallback characters of the prompt.
type KeywordWindow struct {
	Keywords []string
	Before   int
	After    int
	Fallback int
}

// NewKeywordWindow returns the default financial keyword window.
func NewKeywordWindow() *KeywordWindow {
	return &KeywordWindow{
		Keywords: FinancialKeywords,
		Before:   80,
		After:    240,
		Fallback: 400,
	}
}

func (k *KeywordWindow) Generate(_ context.Context, prompt string) (string, error) {
	if prompt == "" {
		return emptyPromptMarker, nil
	}

	text := []rune(prompt)
	lower := make([]rune, len(text))
	for i, r := range text {
		lower[i] = unicode.ToLower(r)
	}

	var windows []string
	for _, kw := range k.Keywords {
		idx := indexRunes(lower, []rune(strings.ToLower(kw)))
		if idx < 0 {
			continue
		}
		start := max(0, idx-k.Before)
		end := min(len(text), idx+k.After)
		windows = append(windows, strings.TrimSpace(string(text[start:end])))
	}
	if len(windows) > 0 {
		return strings.Join(windows, windowSeparator), nil
	}

	if len(text) > k.Fallback {
		return string(text[:k.Fallback]) + "...", nil
	}
	return prompt, nil
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

// ChatCapability generates text through the provider router.
type ChatCapability struct {
	router    *Router
	route     string
	model     string
	system    string
	maxTokens int
}

// NewChatCapability creates a capability that sends every prompt as a single
// user message on route.
func NewChatCapability(router *Router, route, model string) *ChatCapability {
	return &ChatCapability{router: router, route: route, model: model, maxTokens: 1024}
}

// WithSystem sets a system message sent ahead of each prompt.
func (c *ChatCapability) WithSystem(system string) *ChatCapability {
	c.system = system
	return c
}

func (c *ChatCapability) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return emptyPromptMarker, nil
	}
	var msgs []Message
	if c.system != "" {
		msgs = append(msgs, Message{Role: "system", Content: c.system})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})

	resp, err := c.router.Route(ctx, c.route, &ChatRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat capability: %w", err)
	}
	return resp.Content, nil
}
