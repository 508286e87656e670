// Package agent provides the conversational session capability the bot pool
// hands out: one Session per pool handle, owned exclusively by that handle.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/evogatehq/evogate/internal/providers"
)

// Session is one conversation: a system prompt plus accumulated history.
// A Session is owned by exactly one pool handle and is never invoked
// concurrently; the pool serializes access.
type Session struct {
	systemPrompt string
	messages     []providers.Message
}

// Reset clears the conversation history, keeping the system prompt.
// Called by the pool before a recycled handle is given to a new phone.
func (s *Session) Reset() {
	s.messages = s.messages[:0]
}

// Len reports the number of history messages (excluding the system prompt).
func (s *Session) Len() int { return len(s.messages) }

// Invoker creates sessions and produces replies. This is the seam the pool
// and gateway depend on; tests substitute a fake.
type Invoker interface {
	NewSession(ctx context.Context) (*Session, error)
	Invoke(ctx context.Context, session *Session, text string) (string, error)
	// CloseSession releases any resources held by the session.
	CloseSession(ctx context.Context, session *Session) error
}

// ChatInvoker implements Invoker over a providers.Provider.
type ChatInvoker struct {
	provider  providers.Provider
	maxTokens int

	mu     sync.RWMutex
	prompt string
}

// NewChatInvoker creates an invoker with the given system prompt.
func NewChatInvoker(provider providers.Provider, systemPrompt string, maxTokens int) *ChatInvoker {
	return &ChatInvoker{
		provider:  provider,
		maxTokens: maxTokens,
		prompt:    systemPrompt,
	}
}

// SetPrompt swaps the system prompt used for sessions created afterwards.
// Existing sessions keep the prompt they were created with.
func (c *ChatInvoker) SetPrompt(prompt string) {
	c.mu.Lock()
	c.prompt = prompt
	c.mu.Unlock()
}

// Prompt returns the current system prompt.
func (c *ChatInvoker) Prompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prompt
}

func (c *ChatInvoker) NewSession(_ context.Context) (*Session, error) {
	return &Session{systemPrompt: c.Prompt()}, nil
}

// Invoke sends the user text with the session's history and appends both the
// question and the reply to the history.
func (c *ChatInvoker) Invoke(ctx context.Context, session *Session, text string) (string, error) {
	msgs := make([]providers.Message, 0, len(session.messages)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: session.systemPrompt})
	msgs = append(msgs, session.messages...)
	msgs = append(msgs, providers.Message{Role: "user", Content: text})

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Messages:  msgs,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", c.provider.Name(), err)
	}

	session.messages = append(session.messages,
		providers.Message{Role: "user", Content: text},
		providers.Message{Role: "assistant", Content: resp.Content},
	)
	return resp.Content, nil
}

// CloseSession drops the history. Chat sessions hold no remote resources.
func (c *ChatInvoker) CloseSession(_ context.Context, session *Session) error {
	if session != nil {
		session.Reset()
	}
	return nil
}
