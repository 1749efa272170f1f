package anvil

import (
	"context"
	"fmt"
	"log/slog"
)

// Compact is the per-agent context compaction policy. Compaction triggers
// when any configured threshold is met and replaces a window of past
// messages with a single summary assistant-message, without breaking
// tool-call/tool-result atomicity or touching the most recent
// RetentionWindow messages.
type Compact struct {
	// Model runs the summarization call.
	Model string `toml:"model" json:"model"`
	// MaxTokens caps the summary completion. Zero means provider default.
	MaxTokens int `toml:"max_tokens" json:"max_tokens,omitempty"`
	// RetentionWindow is the count of most-recent messages exempt from
	// compaction.
	RetentionWindow int `toml:"retention_window" json:"retention_window"`
	// SummaryTag, when set, names the tag the summary is extracted from.
	SummaryTag string `toml:"summary_tag" json:"summary_tag,omitempty"`
	// Prompt overrides the default summarization prompt template.
	Prompt string `toml:"prompt" json:"prompt,omitempty"`

	// Trigger thresholds; zero disables the corresponding check.
	TokenThreshold   int `toml:"token_threshold" json:"token_threshold,omitempty"`
	TurnThreshold    int `toml:"turn_threshold" json:"turn_threshold,omitempty"`
	MessageThreshold int `toml:"message_threshold" json:"message_threshold,omitempty"`
}

// ShouldCompact reports whether the context has crossed any configured
// threshold, given the observed prompt-token count and the agent's turn
// count.
func (p *Compact) ShouldCompact(c Context, promptTokens, turnCount int) bool {
	if p == nil {
		return false
	}
	if p.TokenThreshold > 0 && promptTokens >= p.TokenThreshold {
		return true
	}
	if p.MessageThreshold > 0 && len(c.Messages) >= p.MessageThreshold {
		return true
	}
	if p.TurnThreshold > 0 && turnCount >= p.TurnThreshold {
		return true
	}
	return false
}

// findSequence locates the compressible message window [start, end] for the
// given retention window. It returns ok=false when nothing can be compacted:
// no assistant message, the retention window covers the whole context, or the
// window is too short to be worth summarizing.
func findSequence(messages []ContextMessage, retentionWindow int) (start, end int, ok bool) {
	n := len(messages)
	if n == 0 || retentionWindow >= n {
		return 0, 0, false
	}

	start = -1
	for i, m := range messages {
		if m.HasRole(RoleAssistant) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, 0, false
	}

	end = n - retentionWindow - 1
	// An assistant message whose tool results fall beyond the boundary must
	// not be split from them.
	if end >= 0 && end < n && messages[end].HasToolCalls() {
		end--
		if end == start {
			return 0, 0, false
		}
	}
	if end < start+1 {
		return 0, 0, false
	}
	return start, end, true
}

// Compactor generates summaries for compressible context windows and splices
// them in place.
type Compactor struct {
	provider Provider
	renderer *Renderer
	logger   *slog.Logger
	tracer   Tracer
	meter    Meter
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithCompactorLogger sets the compactor's logger.
func WithCompactorLogger(l *slog.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = l }
}

// WithCompactorTracer sets the compactor's tracer.
func WithCompactorTracer(t Tracer) CompactorOption {
	return func(c *Compactor) { c.tracer = t }
}

// WithCompactorMeter sets the compactor's meter.
func WithCompactorMeter(m Meter) CompactorOption {
	return func(c *Compactor) { c.meter = m }
}

// NewCompactor creates a compactor using the given provider for
// summarization calls.
func NewCompactor(provider Provider, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		provider: provider,
		renderer: NewRenderer(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply compacts the context under the given policy. When no compressible
// sequence exists the context is returned unchanged. Summarization failures
// propagate; the caller decides whether to continue uncompacted.
func (c *Compactor) Apply(ctx context.Context, policy *Compact, cc Context) (Context, error) {
	start, end, ok := findSequence(cc.Messages, policy.RetentionWindow)
	if !ok {
		c.logger.Debug("no compressible sequence found")
		return cc, nil
	}

	if c.tracer != nil {
		var span Span
		ctx, span = c.tracer.Start(ctx, "compaction.apply",
			IntAttr("sequence_start", start),
			IntAttr("sequence_end", end),
			IntAttr("messages", len(cc.Messages)))
		defer span.End()
	}

	summary, err := c.summarize(ctx, policy, cc.Messages[start:end+1])
	if err != nil {
		return cc, err
	}

	if c.meter != nil {
		c.meter.CountCompaction(ctx)
	}
	c.logger.Info("context compacted",
		"sequence_start", start,
		"sequence_end", end,
		"messages_before", len(cc.Messages))

	replacement := AssistantMessage(fmt.Sprintf(summaryPreamble, summary), nil)
	out := cc.clone()
	out.Messages = append(out.Messages[:start:start], replacement)
	out.Messages = append(out.Messages, cc.Messages[end+1:]...)
	return out, nil
}

// summarize renders the sequence as a transcript, asks the summarizer model
// for a summary, and extracts the tagged section when configured.
func (c *Compactor) summarize(ctx context.Context, policy *Compact, sequence []ContextMessage) (string, error) {
	transcript := Context{Messages: sequence}.ToText()

	promptTemplate := policy.Prompt
	if promptTemplate == "" {
		promptTemplate = defaultSummarizationPrompt
	}
	prompt, err := c.renderer.Render(promptTemplate, struct {
		Context    string
		SummaryTag string
	}{Context: transcript, SummaryTag: policy.SummaryTag})
	if err != nil {
		return "", fmt.Errorf("render summarization prompt: %w", err)
	}

	request := NewContext(nil).AddMessage(UserMessage(prompt))
	if policy.MaxTokens > 0 {
		request = request.WithMaxTokens(policy.MaxTokens)
	}

	chunks, err := c.provider.Chat(ctx, policy.Model, request)
	if err != nil {
		return "", err
	}
	var content string
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		content += chunk.Content
	}

	if policy.SummaryTag != "" {
		if extracted, ok := extractTagContent(content, policy.SummaryTag); ok {
			return extracted, nil
		}
	}
	return content, nil
}
