package anvil

// AgentState is the per-agent, per-conversation mutable state: how many
// turns the agent has completed, its accumulated context, and its pending
// event queue.
type AgentState struct {
	TurnCount int      `json:"turn_count"`
	Context   *Context `json:"context,omitempty"`
	Queue     []Event  `json:"queue,omitempty"`
}

// Conversation holds everything about one multi-agent session: the
// materialized agent roster, per-agent state, shared variables, and the
// global event log. A conversation is owned by a single orchestrator at a
// time; all mutation is serialized behind the orchestrator's lock.
type Conversation struct {
	ID        string                 `json:"id"`
	Archived  bool                   `json:"archived"`
	State     map[string]*AgentState `json:"state"`
	Variables map[string]any         `json:"variables"`
	Agents    []Agent                `json:"agents"`
	Events    []Event                `json:"events"`
}

// NewConversation materializes a conversation from a workflow: workflow-level
// defaults are applied to each agent, command subscriptions are merged into
// the main agent, and variables are seeded from the workflow.
func NewConversation(id string, wf Workflow) *Conversation {
	variables := make(map[string]any, len(wf.Variables))
	for k, v := range wf.Variables {
		variables[k] = v
	}
	return &Conversation{
		ID:        id,
		State:     map[string]*AgentState{},
		Variables: variables,
		Agents:    wf.materialize(),
	}
}

// GetAgent returns the agent with the given id.
func (c *Conversation) GetAgent(id string) (*Agent, error) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], nil
		}
	}
	return nil, &ErrAgentUndefined{AgentID: id}
}

// TurnCount returns how many turns the agent has completed.
func (c *Conversation) TurnCount(id string) int {
	if s, ok := c.State[id]; ok {
		return s.TurnCount
	}
	return 0
}

// Context returns the agent's stored context, or nil before its first turn.
func (c *Conversation) Context(id string) *Context {
	if s, ok := c.State[id]; ok {
		return s.Context
	}
	return nil
}

// Subscriptions returns every agent subscribed to the event name: not
// disabled, not turn-exhausted, and listening on the name.
func (c *Conversation) Subscriptions(eventName string) []*Agent {
	var out []*Agent
	for i := range c.Agents {
		agent := &c.Agents[i]
		if agent.Disable {
			continue
		}
		if agent.MaxTurns > 0 && c.TurnCount(agent.ID) >= agent.MaxTurns {
			continue
		}
		if agent.Subscribed(eventName) {
			out = append(out, agent)
		}
	}
	return out
}

func (c *Conversation) state(agentID string) *AgentState {
	s, ok := c.State[agentID]
	if !ok {
		s = &AgentState{}
		c.State[agentID] = s
	}
	return s
}

// InsertEvent appends the event to the conversation log and enqueues it to
// every subscribed agent.
func (c *Conversation) InsertEvent(event Event) {
	subscribed := c.Subscriptions(event.Name)
	c.Events = append(c.Events, event)
	for _, agent := range subscribed {
		s := c.state(agent.ID)
		s.Queue = append(s.Queue, event)
	}
}

// PollEvent pops the next queued event for the agent, or returns false when
// its queue is empty.
func (c *Conversation) PollEvent(agentID string) (Event, bool) {
	s, ok := c.State[agentID]
	if !ok || len(s.Queue) == 0 {
		return Event{}, false
	}
	event := s.Queue[0]
	s.Queue = s.Queue[1:]
	return event, true
}

// DispatchEvent inserts the event and returns the ids of subscribed agents
// whose queue was empty before insertion — the agents that need waking.
func (c *Conversation) DispatchEvent(event Event) []string {
	var inactive []string
	for _, agent := range c.Subscriptions(event.Name) {
		s, ok := c.State[agent.ID]
		if !ok || len(s.Queue) == 0 {
			inactive = append(inactive, agent.ID)
		}
	}
	c.InsertEvent(event)
	return inactive
}

// RFindEvent searches the agent queues one at a time and returns the most
// recently queued matching event of the first queue that holds one, or false
// when none is pending. Queues are visited in map order, so when several
// agents hold a match, which agent's event is returned is not defined.
func (c *Conversation) RFindEvent(eventName string) (Event, bool) {
	for _, s := range c.State {
		for i := len(s.Queue) - 1; i >= 0; i-- {
			if s.Queue[i].Name == eventName {
				return s.Queue[i], true
			}
		}
	}
	return Event{}, false
}

// GetVariable returns the value of a conversation variable.
func (c *Conversation) GetVariable(key string) (any, bool) {
	v, ok := c.Variables[key]
	return v, ok
}

// SetVariable sets a conversation variable, replacing any existing value.
func (c *Conversation) SetVariable(key string, value any) {
	if c.Variables == nil {
		c.Variables = map[string]any{}
	}
	c.Variables[key] = value
}

// DeleteVariable removes a variable. Reports whether it was present.
func (c *Conversation) DeleteVariable(key string) bool {
	_, ok := c.Variables[key]
	delete(c.Variables, key)
	return ok
}

// ClearQueues empties every agent's event queue. A freshly constructed
// orchestrator clears queues so stale events from a previous owner are not
// replayed.
func (c *Conversation) ClearQueues() {
	for _, s := range c.State {
		s.Queue = nil
	}
}

// Snapshot returns a deep copy safe to hand to a store while the original
// keeps mutating under the orchestrator's lock.
func (c *Conversation) Snapshot() Conversation {
	out := Conversation{
		ID:        c.ID,
		Archived:  c.Archived,
		State:     make(map[string]*AgentState, len(c.State)),
		Variables: make(map[string]any, len(c.Variables)),
		Agents:    append([]Agent(nil), c.Agents...),
		Events:    append([]Event(nil), c.Events...),
	}
	for k, v := range c.Variables {
		out.Variables[k] = v
	}
	for id, s := range c.State {
		copied := AgentState{
			TurnCount: s.TurnCount,
			Queue:     append([]Event(nil), s.Queue...),
		}
		if s.Context != nil {
			ctx := s.Context.clone()
			copied.Context = &ctx
		}
		out.State[id] = &copied
	}
	return out
}
