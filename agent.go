package anvil

// Agent is the immutable configuration of one LLM caller: its prompts, its
// tool allowlist, its event subscriptions, and its policies. Agents are
// declared in workflow files and materialized into a Conversation with
// workflow-level defaults applied.
type Agent struct {
	ID string `toml:"id" json:"id"`

	// Model is the provider model id used for this agent's turns.
	Model string `toml:"model" json:"model,omitempty"`

	// SystemPrompt and UserPrompt are template texts rendered against
	// SystemContext and EventContext respectively. When UserPrompt is empty
	// the raw event value is used as the user message.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt,omitempty"`
	UserPrompt   string `toml:"user_prompt" json:"user_prompt,omitempty"`

	// Subscribe lists the event names this agent listens on.
	Subscribe []string `toml:"subscribe" json:"subscribe,omitempty"`

	// Tools is the set of tool names this agent may call.
	Tools []string `toml:"tools" json:"tools,omitempty"`

	// ToolSupported reports whether the provider understands structured tool
	// calls. When false, tool calls are embedded in assistant text as XML and
	// parsed out by the pipeline. Nil inherits the workflow default.
	ToolSupported *bool `toml:"tool_supported" json:"tool_supported,omitempty"`

	// Ephemeral discards accumulated context between invocations.
	Ephemeral bool `toml:"ephemeral" json:"ephemeral,omitempty"`

	// Disable removes the agent from event subscription matching.
	Disable bool `toml:"disable" json:"disable,omitempty"`

	// MaxTurns caps how many events this agent processes. Zero means
	// unlimited.
	MaxTurns int `toml:"max_turns" json:"max_turns,omitempty"`

	// MaxWalkerDepth bounds the directory walk that feeds the system prompt's
	// file listing. Zero means depth 1.
	MaxWalkerDepth int `toml:"max_walker_depth" json:"max_walker_depth,omitempty"`

	Temperature *float64 `toml:"temperature" json:"temperature,omitempty"`

	// CustomRules is free-form text appended to the system context.
	CustomRules string `toml:"custom_rules" json:"custom_rules,omitempty"`

	// HideContent suppresses Text events to the consumer for this agent.
	// Non-text events (tool calls, usage, errors) always pass through.
	HideContent bool `toml:"hide_content" json:"hide_content,omitempty"`

	// Compact is the optional context compaction policy.
	Compact *Compact `toml:"compact" json:"compact,omitempty"`
}

// IsToolSupported resolves the tool-support flag, defaulting to false.
func (a *Agent) IsToolSupported() bool {
	return a.ToolSupported != nil && *a.ToolSupported
}

// WalkerDepth resolves the bounded-walk depth, defaulting to 1.
func (a *Agent) WalkerDepth() int {
	if a.MaxWalkerDepth <= 0 {
		return 1
	}
	return a.MaxWalkerDepth
}

// Subscribed reports whether the agent listens on the given event name.
func (a *Agent) Subscribed(eventName string) bool {
	for _, name := range a.Subscribe {
		if name == eventName {
			return true
		}
	}
	return false
}

// InitContext produces a fresh context for a turn. When the agent's provider
// supports structured tool calls the allowed definitions are attached to the
// context declaration; otherwise they are taught through the system prompt
// instead and the declaration stays empty.
func (a *Agent) InitContext(allowed []ToolDefinition) Context {
	if a.IsToolSupported() {
		return NewContext(allowed)
	}
	return NewContext(nil)
}
