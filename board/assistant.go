package board

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Modar-SAD/task-nest/domain"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the assistant chat.
type Message struct {
	ID        int       `json:"id"`
	Role      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Responder produces the assistant's reply to the chat so far.
type Responder interface {
	Respond(ctx context.Context, history []Message) (string, error)
}

// Script holds the canned texts of the scripted assistant.
type Script struct {
	Greeting    string `yaml:"greeting"`
	TaskCreated string `yaml:"taskCreated"`
	Reply       string `yaml:"reply"`
}

// DefaultScript returns the built-in assistant texts.
func DefaultScript() Script {
	return Script{
		Greeting: "I am your smart assistant to organize your tasks and help you create new ones.\n\n" +
			"Reminder: You have an important meeting on Thursday at 6:00 PM.\n" +
			"Reminder: You have an important email that you must send by the end of the day.",
		TaskCreated: "I've created a new task for you. Let me know if you need any help managing it!",
		Reply:       "I understand you're asking about tasks. I'll help you manage them effectively!",
	}
}

// LoadScript reads a YAML script file. Keys missing from the file keep
// their default text.
func LoadScript(path string) (Script, error) {
	script := DefaultScript()
	raw, err := os.ReadFile(path)
	if err != nil {
		return script, fmt.Errorf("read assistant script: %w", err)
	}
	var override Script
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return script, fmt.Errorf("parse assistant script: %w", err)
	}
	if override.Greeting != "" {
		script.Greeting = override.Greeting
	}
	if override.TaskCreated != "" {
		script.TaskCreated = override.TaskCreated
	}
	if override.Reply != "" {
		script.Reply = override.Reply
	}
	return script, nil
}

// Scripted answers every message with the script's reply.
type Scripted struct {
	Script Script
}

func (s Scripted) Respond(context.Context, []Message) (string, error) {
	return s.Script.Reply, nil
}

// Chat is the assistant conversation of one user.
type Chat struct {
	script    Script
	responder Responder
	now       func() time.Time

	mu       sync.Mutex
	messages []Message
	nextID   int
}

// NewChat starts a conversation with the greeting. A nil responder answers
// with the script's reply.
func NewChat(script Script, responder Responder, now func() time.Time) *Chat {
	if responder == nil {
		responder = Scripted{Script: script}
	}
	if now == nil {
		now = time.Now
	}
	c := &Chat{script: script, responder: responder, now: now, nextID: 1}
	c.append(RoleAssistant, script.Greeting)
	return c
}

// Messages returns the conversation in order.
func (c *Chat) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Send appends the user's message followed by the assistant's reply and
// returns both.
func (c *Chat) Send(ctx context.Context, content string) ([]Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	question := c.append(RoleUser, content)
	reply, err := c.responder.Respond(ctx, c.Messages())
	if err != nil {
		return []Message{question}, fmt.Errorf("assistant reply: %w", err)
	}
	return []Message{question, c.append(RoleAssistant, reply)}, nil
}

func (c *Chat) taskCreated() {
	c.append(RoleAssistant, c.script.TaskCreated)
}

func (c *Chat) append(role, content string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := Message{ID: c.nextID, Role: role, Content: content, Timestamp: c.now()}
	c.nextID++
	c.messages = append(c.messages, msg)
	return msg
}
