package anvil

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// maxEmptyToolCalls is how many consecutive tool-less responses an agent with
// pending work tolerates before the turn is abandoned.
const maxEmptyToolCalls = 3

// Orchestrator owns one conversation and drives its agents: it dispatches
// incoming events to subscribed agents, runs each agent's think/act loop to
// completion, and persists conversation state along the way.
//
// The conversation's mutable state sits behind a readers-writer lock. The
// lock is taken briefly for reads and writes and is never held across
// provider, tool, or store I/O.
type Orchestrator struct {
	provider    Provider
	tools       ToolService
	store       ConversationStore
	attachments AttachmentService
	renderer    *Renderer
	compactor   *Compactor
	sender      *Sender
	retry       RetryPolicy
	tracer      Tracer
	meter       Meter
	logger      *slog.Logger
	env         Environment

	mu   sync.RWMutex
	conv *Conversation

	// agentLocks serializes turns per agent so concurrent dispatches never
	// overlap the same agent's loop. Values are *sync.Mutex.
	agentLocks sync.Map
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithStore sets the conversation persistence backend.
func WithStore(s ConversationStore) OrchestratorOption {
	return func(o *Orchestrator) { o.store = s }
}

// WithAttachments sets the attachment resolution service.
func WithAttachments(a AttachmentService) OrchestratorOption {
	return func(o *Orchestrator) { o.attachments = a }
}

// WithSender sets the outbound agent-message channel.
func WithSender(s *Sender) OrchestratorOption {
	return func(o *Orchestrator) { o.sender = s }
}

// WithRetryPolicy overrides the turn retry policy.
func WithRetryPolicy(p RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.retry = p }
}

// WithTracer sets the tracer for turn spans (and, through the compactor,
// compaction spans). Provider exchanges and tool calls are not given spans.
func WithTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMeter sets the meter counting tokens, turns, tool executions, and
// compaction passes.
func WithMeter(m Meter) OrchestratorOption {
	return func(o *Orchestrator) { o.meter = m }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEnvironment sets the workspace environment rendered into system prompts.
func WithEnvironment(env Environment) OrchestratorOption {
	return func(o *Orchestrator) { o.env = env }
}

// WithCompactor overrides the compaction engine (the default summarizes with
// the orchestrator's own provider).
func WithCompactor(c *Compactor) OrchestratorOption {
	return func(o *Orchestrator) { o.compactor = c }
}

// NewOrchestrator creates an orchestrator owning the given conversation. Any
// stale queued events from a previous owner are cleared.
func NewOrchestrator(provider Provider, tools ToolService, conv *Conversation, opts ...OrchestratorOption) *Orchestrator {
	cwd, _ := os.Getwd()
	o := &Orchestrator{
		provider: provider,
		tools:    tools,
		conv:     conv,
		renderer: NewRenderer(),
		retry:    DefaultRetryPolicy(),
		logger:   slog.New(slog.DiscardHandler),
		env: Environment{
			CWD:   cwd,
			OS:    runtime.GOOS,
			Shell: os.Getenv("SHELL"),
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.compactor == nil {
		o.compactor = NewCompactor(provider,
			WithCompactorLogger(o.logger),
			WithCompactorTracer(o.tracer),
			WithCompactorMeter(o.meter))
	}
	conv.ClearQueues()
	return o
}

// Dispatch appends the event to the conversation log, enqueues it to every
// subscribed agent, and wakes the agents whose queue went from empty to
// non-empty. It returns once every woken agent has drained its queue; the
// only failure that can abort the enqueue itself is a persistence failure.
func (o *Orchestrator) Dispatch(ctx context.Context, event Event) error {
	o.mu.Lock()
	o.logger.Debug("dispatching event",
		"conversation_id", o.conv.ID,
		"event_name", event.Name,
		"event_id", event.ID)
	inactive := o.conv.DispatchEvent(event)
	o.mu.Unlock()

	if err := o.syncConversation(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(inactive))
	for i, agentID := range inactive {
		wg.Add(1)
		go func(i int, agentID string) {
			defer wg.Done()
			errs[i] = o.wakeAgent(ctx, agentID)
		}(i, agentID)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// wakeAgent drains the agent's queue, running one turn per event under the
// retry policy. Parse-class failures retry the whole turn with backoff; other
// failures surface to the consumer as a single error event and stop the
// drain. A closed consumer stops the drain quietly.
func (o *Orchestrator) wakeAgent(ctx context.Context, agentID string) error {
	lockAny, _ := o.agentLocks.LoadOrStore(agentID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	for {
		o.mu.Lock()
		event, ok := o.conv.PollEvent(agentID)
		o.mu.Unlock()
		if !ok {
			return nil
		}

		err := retryTurn(ctx, o.retry, isParseError, func() error {
			return o.initAgent(ctx, agentID, event)
		})
		if err == nil {
			continue
		}
		if errors.Is(err, ErrSenderClosed) {
			return nil
		}
		o.logger.Error("agent turn failed", "agent", agentID, "event", event.Name, "error", err)
		o.sendError(agentID, err)
		return err
	}
}

// initAgent runs one full turn for the agent against the event: context
// selection, prompt rendering, attachment folding, then the inner loop of
// provider exchanges and tool executions until the agent yields.
func (o *Orchestrator) initAgent(ctx context.Context, agentID string, event Event) error {
	o.mu.RLock()
	agentRef, err := o.conv.GetAgent(agentID)
	var agent Agent
	var variables map[string]any
	var stored *Context
	var turnCount int
	if err == nil {
		agent = *agentRef
		variables = copyVariables(o.conv.Variables)
		stored = o.conv.Context(agentID)
		turnCount = o.conv.TurnCount(agentID)
	}
	o.mu.RUnlock()
	if err != nil {
		return err
	}
	if agent.Model == "" {
		return &ErrMissingModel{AgentID: agentID}
	}

	o.logger.Debug("initializing agent", "agent", agentID, "event", event.Name)

	if o.tracer != nil {
		ctx2, span := o.tracer.Start(ctx, "agent.turn",
			StringAttr("agent", agentID),
			StringAttr("event", event.Name),
			IntAttr("turn", turnCount))
		defer span.End()
		ctx = ctx2
	}

	allowed := AllowedTools(o.tools.List(), agent.Tools)

	var c Context
	if agent.Ephemeral || stored == nil {
		c = agent.InitContext(allowed)
	} else {
		c = stored.clone()
	}

	c, err = o.setSystemPrompt(c, &agent, allowed, variables)
	if err != nil {
		return err
	}
	c, err = o.setUserPrompt(c, &agent, variables, event)
	if err != nil {
		return err
	}
	if agent.Temperature != nil {
		c = c.WithTemperature(*agent.Temperature)
	}

	if o.attachments != nil {
		attachments, err := o.attachments.Attachments(ctx, event.ValueString())
		if err != nil {
			return err
		}
		for _, a := range attachments {
			c = foldAttachment(c, a)
		}
	}

	o.setContext(agentID, c)

	emptyToolCalls := 0
	executedAny := false

	for {
		if o.sender != nil && o.sender.IsClosed() {
			return ErrSenderClosed
		}

		o.setContext(agentID, c)

		chunks, err := o.provider.Chat(ctx, agent.Model, c)
		if err != nil {
			return err
		}
		result, err := o.collectStream(ctx, &agent, c, chunks)
		if err != nil {
			return err
		}

		if o.meter != nil && result.usage != nil {
			o.meter.CountTokens(ctx, agentID, *result.usage)
		}

		promptTokens := c.EstimateTokens()
		if result.usage != nil && result.usage.PromptTokens > 0 {
			promptTokens = result.usage.PromptTokens
		}
		if agent.Compact.ShouldCompact(c, promptTokens, turnCount) {
			o.logger.Debug("compaction triggered", "agent", agentID)
			c, err = o.compactor.Apply(ctx, agent.Compact, c)
			if err != nil {
				return err
			}
		}

		records, err := o.executeToolCalls(ctx, &agent, result.toolCalls)
		if err != nil {
			return err
		}
		c = c.AppendTurn(result.content, records)

		if len(result.toolCalls) == 0 {
			if len(allowed) == 0 || executedAny {
				// The agent yielded: nothing more to run.
				o.setContext(agentID, c)
				if err := o.syncConversation(ctx); err != nil {
					return err
				}
				break
			}
			if emptyToolCalls >= maxEmptyToolCalls {
				return ErrNoProgress
			}
			c = c.AddMessage(UserMessage(toolRequiredNudge))
			emptyToolCalls++
		} else {
			executedAny = true
		}

		o.setContext(agentID, c)
		if err := o.syncConversation(ctx); err != nil {
			return err
		}
	}

	o.completeTurn(agentID)
	if o.meter != nil {
		o.meter.CountTurn(ctx, agentID)
	}
	if err := o.syncConversation(ctx); err != nil {
		return err
	}
	return o.send(&agent, ChatEvent{Type: EventComplete})
}

// setSystemPrompt renders the agent's system prompt template against the
// SystemContext and installs it as the first message. Agents without a system
// prompt leave the context untouched.
func (o *Orchestrator) setSystemPrompt(c Context, agent *Agent, allowed []ToolDefinition, variables map[string]any) (Context, error) {
	if agent.SystemPrompt == "" {
		return c, nil
	}

	files, err := WalkFiles(o.env.CWD, agent.WalkerDepth())
	if err != nil {
		files = nil
	}

	var toolInformation string
	if !agent.IsToolSupported() {
		toolInformation = RenderUsagePrompt(allowed)
	}

	sc := SystemContext{
		CurrentTime:     time.Now().Format("2006-01-02 15:04:05 -07:00"),
		Env:             o.env,
		ToolInformation: toolInformation,
		ToolSupported:   agent.IsToolSupported(),
		Files:           files,
		CustomRules:     agent.CustomRules,
		Variables:       variables,
	}
	rendered, err := o.renderer.Render(agent.SystemPrompt, sc)
	if err != nil {
		return c, err
	}
	return c.SetFirstSystemMessage(rendered), nil
}

// setUserPrompt appends the event as a user message: either the agent's user
// prompt template rendered against the EventContext, or the raw event value.
func (o *Orchestrator) setUserPrompt(c Context, agent *Agent, variables map[string]any, event Event) (Context, error) {
	content := event.ValueString()
	if agent.UserPrompt != "" {
		rendered, err := o.renderer.Render(agent.UserPrompt, EventContext{Event: event, Variables: variables})
		if err != nil {
			return c, err
		}
		content = rendered
	}
	if content == "" {
		return c, nil
	}
	return c.AddMessage(UserMessage(content)), nil
}

// send delivers one event to the consumer, honoring the agent's hide_content
// flag for text events. A nil sender drops everything.
func (o *Orchestrator) send(agent *Agent, event ChatEvent) error {
	if o.sender == nil {
		return nil
	}
	if event.Type == EventText && agent.HideContent {
		return nil
	}
	return o.sender.Send(AgentMessage{AgentID: agent.ID, Event: event})
}

// sendError emits the turn failure as a final event on the agent channel.
func (o *Orchestrator) sendError(agentID string, err error) {
	if o.sender == nil {
		return
	}
	_ = o.sender.Send(AgentMessage{AgentID: agentID, Event: ChatEvent{Type: EventError, Err: err}})
}

func (o *Orchestrator) setContext(agentID string, c Context) {
	o.mu.Lock()
	snapshot := c.clone()
	o.conv.state(agentID).Context = &snapshot
	o.mu.Unlock()
}

func (o *Orchestrator) completeTurn(agentID string) {
	o.mu.Lock()
	o.conv.state(agentID).TurnCount++
	o.mu.Unlock()
}

// syncConversation persists a snapshot of the conversation, taken under the
// read lock and written with the lock released.
func (o *Orchestrator) syncConversation(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	o.mu.RLock()
	snapshot := o.conv.Snapshot()
	o.mu.RUnlock()
	return o.store.Upsert(ctx, snapshot)
}

// Conversation returns a snapshot of the orchestrator's conversation.
func (o *Orchestrator) Conversation() Conversation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.conv.Snapshot()
}

// GetVariable reads a conversation variable under the read lock.
func (o *Orchestrator) GetVariable(key string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.conv.GetVariable(key)
}

// SetVariable writes a conversation variable under the write lock.
func (o *Orchestrator) SetVariable(key string, value any) {
	o.mu.Lock()
	o.conv.SetVariable(key, value)
	o.mu.Unlock()
}

// DeleteVariable removes a conversation variable under the write lock.
func (o *Orchestrator) DeleteVariable(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conv.DeleteVariable(key)
}

func copyVariables(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
