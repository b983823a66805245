package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"streamchat/internal/domain"
)

// Conversation owns the message history of a chat session, the generation
// parameters sent with every request, and a running token total.
//
// The system message is added at construction, is pinned, and is never
// evicted. The token total always equals the sum of the per-message counts
// of the retained messages.
type Conversation struct {
	mu       sync.RWMutex
	id       string
	messages []domain.Message
	tokens   []int // token count per message, parallel to messages
	total    int
	params   domain.GenerationParams
	counter  domain.TokenCounter
	logger   *slog.Logger
}

// NewConversation creates a conversation holding only the system prompt.
func NewConversation(systemPrompt string, params domain.GenerationParams, counter domain.TokenCounter, logger *slog.Logger) *Conversation {
	now := time.Now()
	params.Stream = true
	c := &Conversation{
		id:      generateULID(now),
		params:  params,
		counter: counter,
		logger:  logger,
	}
	c.push(domain.Message{Role: domain.RoleSystem, Content: systemPrompt, Timestamp: now})
	return c
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ID returns the conversation's ULID.
func (c *Conversation) ID() string { return c.id }

// Append adds a user or assistant message at the end of the history and
// returns the new token total. A second system message is rejected.
func (c *Conversation) Append(role, content string) (int, error) {
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return 0, domain.NewDomainError("Conversation.Append", domain.ErrInvalidInput, fmt.Sprintf("role %q", role))
	}

	return c.appendMessage(role, content), nil
}

// appendReply records a completed assistant reply and returns the new total.
func (c *Conversation) appendReply(content string) int {
	return c.appendMessage(domain.RoleAssistant, content)
}

func (c *Conversation) appendMessage(role, content string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.push(domain.Message{Role: role, Content: content, Timestamp: time.Now()})
	return c.total
}

// push appends msg and its token count. Caller holds mu or owns c exclusively.
func (c *Conversation) push(msg domain.Message) {
	n := c.counter.CountText(msg.Content)
	c.messages = append(c.messages, msg)
	c.tokens = append(c.tokens, n)
	c.total += n
}

// EvictToBudget removes the oldest non-pinned messages while the total is at
// or above ceiling, and returns what it removed in removal order. If only
// pinned messages remain and the ceiling still is not met it stops and
// returns domain.ErrBudgetUnsatisfiable; the history is left usable.
func (c *Conversation) EvictToBudget(ceiling int) ([]domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []domain.Message
	for c.total >= ceiling {
		i := c.oldestUnpinned()
		if i < 0 {
			return evicted, domain.NewDomainError("Conversation.EvictToBudget", domain.ErrBudgetUnsatisfiable,
				fmt.Sprintf("%d tokens with only pinned messages left, ceiling %d", c.total, ceiling))
		}

		msg, n := c.messages[i], c.tokens[i]
		c.messages = append(c.messages[:i], c.messages[i+1:]...)
		c.tokens = append(c.tokens[:i], c.tokens[i+1:]...)
		c.total -= n
		evicted = append(evicted, msg)

		c.logger.Debug("evicted message",
			"conversation_id", c.id,
			"role", msg.Role,
			"tokens", n,
			"total_tokens", c.total,
		)
	}
	return evicted, nil
}

// oldestUnpinned finds pinned messages by role, not position.
func (c *Conversation) oldestUnpinned() int {
	for i, m := range c.messages {
		if !m.Pinned() {
			return i
		}
	}
	return -1
}

// RaiseTemperature increases the temperature by step, capped at ceiling.
// A temperature already at or above the ceiling is left alone, so the
// temperature never decreases. It returns the resulting temperature and
// whether it changed.
func (c *Conversation) RaiseTemperature(step, ceiling float64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.params.Temperature
	if old >= ceiling {
		return old, false
	}
	next := math.Min(ceiling, old+step)
	// 0.7+0.1 should read 0.8 in logs and on the wire.
	next = math.Round(next*1e9) / 1e9
	c.params.Temperature = next
	return next, next != old
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]domain.Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// TotalTokens returns the token total over the retained messages.
func (c *Conversation) TotalTokens() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// Params returns the current generation parameters.
func (c *Conversation) Params() domain.GenerationParams {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

// Request builds the request for the current state. The message slice is a
// copy, so a held request stays identical across retries.
func (c *Conversation) Request() domain.ChatRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := make([]domain.Message, len(c.messages))
	copy(msgs, c.messages)
	return domain.ChatRequest{
		Model:       c.params.Model,
		Messages:    msgs,
		MaxTokens:   c.params.MaxResponseTokens,
		Temperature: c.params.Temperature,
		Stream:      true,
	}
}
