package anvil

import (
	"errors"
	"sync"
)

// ChatEventType identifies the kind of user-visible event emitted while an
// agent works.
type ChatEventType string

const (
	// EventText carries assistant text: incremental fragments while the
	// stream runs (IsComplete false), then the full cleaned message
	// (IsComplete true, IsMD true).
	EventText ChatEventType = "text"
	// EventToolCallDetected fires when the first fragment of a tool call
	// names the tool.
	EventToolCallDetected ChatEventType = "tool-call-detected"
	// EventToolCallArgPart carries one streamed argument fragment.
	EventToolCallArgPart ChatEventType = "tool-call-arg-part"
	// EventToolCallStart signals a fully assembled call about to execute.
	EventToolCallStart ChatEventType = "tool-call-start"
	// EventToolCallEnd carries the result of a completed tool call.
	EventToolCallEnd ChatEventType = "tool-call-end"
	// EventUsage carries token accounting for the current exchange.
	EventUsage ChatEventType = "usage"
	// EventComplete signals the agent finished its turn and is idle.
	EventComplete ChatEventType = "complete"
	// EventError is the final event of a failed turn.
	EventError ChatEventType = "error"
)

// ChatEvent is one typed event on the agent-message channel.
type ChatEvent struct {
	Type ChatEventType `json:"type"`

	// Text fields (EventText).
	Text       string `json:"text,omitempty"`
	IsComplete bool   `json:"is_complete,omitempty"`
	IsMD       bool   `json:"is_md,omitempty"`
	IsSummary  bool   `json:"is_summary,omitempty"`

	// Tool fields.
	ToolName string        `json:"tool_name,omitempty"`
	ArgsPart string        `json:"args_part,omitempty"`
	ToolCall *ToolCallFull `json:"tool_call,omitempty"`
	Result   *ToolResult   `json:"result,omitempty"`

	Usage *Usage `json:"usage,omitempty"`

	// Err is set on EventError.
	Err error `json:"-"`
}

// AgentMessage tags a chat event with the agent that produced it.
type AgentMessage struct {
	AgentID string    `json:"agent_id"`
	Event   ChatEvent `json:"event"`
}

// ErrSenderClosed reports a send on a sender whose consumer has gone away.
var ErrSenderClosed = errors.New("agent message consumer closed")

// Sender is the bounded outbound channel to the UI consumer. Sends block
// when the buffer is full; when the consumer closes its side the orchestrator
// drops the current provider stream and exits quietly.
type Sender struct {
	ch   chan AgentMessage
	done chan struct{}
}

// NewSender creates a sender with the given buffer size. The returned channel
// is the consumer side; calling the stop function marks the consumer gone and
// unblocks any pending send.
func NewSender(buffer int) (*Sender, <-chan AgentMessage, func()) {
	s := &Sender{
		ch:   make(chan AgentMessage, buffer),
		done: make(chan struct{}),
	}
	var once sync.Once
	stop := func() {
		once.Do(func() { close(s.done) })
	}
	return s, s.ch, stop
}

// Send delivers one message, blocking while the buffer is full. Returns
// ErrSenderClosed once the consumer has stopped.
func (s *Sender) Send(msg AgentMessage) error {
	select {
	case <-s.done:
		return ErrSenderClosed
	default:
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return ErrSenderClosed
	}
}

// IsClosed reports whether the consumer has stopped.
func (s *Sender) IsClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
