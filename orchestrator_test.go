package anvil

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func runTurn(t *testing.T, provider *mockProvider, tools ToolService, agent Agent, value any, opts ...OrchestratorOption) ([]AgentMessage, Conversation, error) {
	t.Helper()
	conv := testConversation(agent)
	sender, messages, stop := NewSender(64)
	opts = append(opts,
		WithSender(sender),
		WithRetryPolicy(fastRetry()),
	)
	orch := NewOrchestrator(provider, tools, conv, opts...)

	done := make(chan error, 1)
	go func() {
		done <- orch.Dispatch(context.Background(), NewEvent("act/user_task_init", value))
	}()

	collected := collectMessages(messages, stop)
	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not finish")
	}
	return collected, orch.Conversation(), err
}

func TestPlainChatEcho(t *testing.T) {
	provider := &mockProvider{scripts: [][]CompletionChunk{{
		textChunk("Yes sure, tell me what you need."),
		finishChunk(FinishStop),
	}}}
	agent := testAgent("main")

	messages, conv, err := runTurn(t, provider, NewToolRegistry(), agent, "Hello can you help me?")
	if err != nil {
		t.Fatal(err)
	}

	var sawComplete bool
	for _, m := range messages {
		if m.Event.Type == EventText && m.Event.IsComplete {
			if m.Event.Text != "Yes sure, tell me what you need." {
				t.Errorf("complete text = %q", m.Event.Text)
			}
			if !m.Event.IsMD {
				t.Error("complete text should be marked markdown")
			}
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Fatal("no complete text event")
	}
	if last := messages[len(messages)-1].Event.Type; last != EventComplete {
		t.Errorf("last event = %s, want complete", last)
	}

	// Context grows by user message + assistant message.
	got := conv.State["main"].Context.Messages
	if len(got) != 2 {
		t.Fatalf("context has %d messages, want 2", len(got))
	}
	if got[0].Role != RoleUser || got[0].Content != "Hello can you help me?" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Role != RoleAssistant {
		t.Errorf("second message role = %s", got[1].Role)
	}
}

func TestSingleToolCallStreamingArgs(t *testing.T) {
	provider := &mockProvider{scripts: [][]CompletionChunk{
		{
			textChunk("Let's use foo tool"),
			partChunk("foo", "c1", `{"foo": 1,`),
			partChunk("", "", `"bar": 2}`),
			finishChunk(FinishToolCalls),
		},
		{
			textChunk("Task is complete"),
			finishChunk(FinishStop),
		},
	}}
	tool := &mockTool{name: "foo", content: `{"a":100,"b":200}`}
	agent := testAgent("main", func(a *Agent) { a.Tools = []string{"foo"} })

	messages, conv, err := runTurn(t, provider, NewToolRegistry(tool), agent, "run foo")
	if err != nil {
		t.Fatal(err)
	}

	types := eventTypes(messages)
	want := []ChatEventType{
		EventText,             // "Let's use foo tool"
		EventToolCallDetected, // foo
		EventToolCallArgPart,  // {"foo": 1,
		EventToolCallArgPart,  // "bar": 2}
		EventText,             // complete text
		EventToolCallStart,    // foo
		EventToolCallEnd,      // result
		EventText,             // "Task is complete"
		EventText,             // complete text
		EventComplete,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (all: %v)", i, types[i], want[i], types)
		}
	}

	// The assembled call carries both fragments joined and the id.
	var start *ChatEvent
	for i := range messages {
		if messages[i].Event.Type == EventToolCallStart {
			start = &messages[i].Event
		}
	}
	if start.ToolCall.CallID != "c1" {
		t.Errorf("call id = %q", start.ToolCall.CallID)
	}
	var parsed map[string]int
	if err := json.Unmarshal(start.ToolCall.Arguments, &parsed); err != nil {
		t.Fatalf("arguments did not parse: %v", err)
	}
	if parsed["foo"] != 1 || parsed["bar"] != 2 {
		t.Errorf("arguments = %v", parsed)
	}

	// Context ends with assistant-with-toolcall, tool result, assistant-final.
	msgs := conv.State["main"].Context.Messages
	n := len(msgs)
	if n < 4 {
		t.Fatalf("context too short: %d", n)
	}
	if !msgs[n-3].HasToolCalls() {
		t.Errorf("message[n-3] should carry the tool call: %+v", msgs[n-3])
	}
	if !msgs[n-2].IsToolResult() || msgs[n-2].CallID != "c1" {
		t.Errorf("message[n-2] should be the paired tool result: %+v", msgs[n-2])
	}
	if msgs[n-1].Role != RoleAssistant || msgs[n-1].Content != "Task is complete" {
		t.Errorf("final message = %+v", msgs[n-1])
	}
}

func TestToolErrorFoldedIntoContext(t *testing.T) {
	provider := &mockProvider{scripts: [][]CompletionChunk{
		{
			partChunk("boom", "c1", `{}`),
			finishChunk(FinishToolCalls),
		},
		{
			textChunk("recovered"),
			finishChunk(FinishStop),
		},
	}}
	tool := &mockTool{name: "boom", failure: "disk on fire"}
	agent := testAgent("main", func(a *Agent) { a.Tools = []string{"boom"} })

	_, conv, err := runTurn(t, provider, NewToolRegistry(tool), agent, "go")
	if err != nil {
		t.Fatalf("tool errors must not fail the turn: %v", err)
	}
	var result *ContextMessage
	for i, m := range conv.State["main"].Context.Messages {
		if m.IsToolResult() {
			result = &conv.State["main"].Context.Messages[i]
		}
	}
	if result == nil || !result.IsError || !strings.Contains(result.Content, "disk on fire") {
		t.Errorf("tool error not folded: %+v", result)
	}
}

func TestEmptyToolCallProtection(t *testing.T) {
	empty := []CompletionChunk{textChunk("thinking..."), finishChunk(FinishStop)}
	provider := &mockProvider{scripts: [][]CompletionChunk{empty, empty, empty, empty, empty}}
	tool := &mockTool{name: "foo", content: "ok"}
	agent := testAgent("main", func(a *Agent) { a.Tools = []string{"foo"} })

	messages, conv, err := runTurn(t, provider, NewToolRegistry(tool), agent, "go")
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("err = %v, want ErrNoProgress", err)
	}
	if last := messages[len(messages)-1].Event; last.Type != EventError {
		t.Errorf("last event = %s, want error", last.Type)
	}
	if provider.callCount() != 4 {
		t.Errorf("provider calls = %d, want 4", provider.callCount())
	}

	nudges := 0
	for _, m := range conv.State["main"].Context.Messages {
		if m.Role == RoleUser && m.Content == toolRequiredNudge {
			nudges++
		}
	}
	if nudges != 3 {
		t.Errorf("nudges = %d, want 3", nudges)
	}
}

func TestRetryOnMissingToolName(t *testing.T) {
	provider := &mockProvider{scripts: [][]CompletionChunk{
		{
			// A part with no name at finish classifies ToolCallMissingName.
			partChunk("", "", `{"k":"v"}`),
			finishChunk(FinishToolCalls),
		},
		{
			textChunk("second attempt works"),
			finishChunk(FinishStop),
		},
	}}
	agent := testAgent("main")

	_, conv, err := runTurn(t, provider, NewToolRegistry(), agent, "go")
	if err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if provider.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.callCount())
	}
	if conv.State["main"].TurnCount != 1 {
		t.Errorf("turn count = %d, want 1", conv.State["main"].TurnCount)
	}
}

func TestRetryExhaustionSurfacesError(t *testing.T) {
	bad := []CompletionChunk{partChunk("", "", `{}`), finishChunk(FinishToolCalls)}
	provider := &mockProvider{scripts: [][]CompletionChunk{bad, bad, bad, bad}}
	agent := testAgent("main")

	messages, _, err := runTurn(t, provider, NewToolRegistry(), agent, "go")
	if !errors.Is(err, ErrToolCallMissingName) {
		t.Fatalf("err = %v, want ErrToolCallMissingName", err)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want max attempts 3", provider.callCount())
	}
	if last := messages[len(messages)-1].Event.Type; last != EventError {
		t.Errorf("last event = %s, want error", last)
	}
}

func TestProviderErrorsDoNotRetry(t *testing.T) {
	provider := &mockProvider{scripts: [][]CompletionChunk{
		{{Err: &ErrHTTP{Status: 500, Body: "upstream broke"}}},
		{textChunk("should never be reached"), finishChunk(FinishStop)},
	}}
	agent := testAgent("main")

	_, _, err := runTurn(t, provider, NewToolRegistry(), agent, "go")
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want ErrHTTP", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, provider errors must not retry", provider.callCount())
	}
}

func TestSubscriptionFilter(t *testing.T) {
	chat := []CompletionChunk{textChunk("hi"), finishChunk(FinishStop)}
	provider := &mockProvider{scripts: [][]CompletionChunk{chat, chat, chat, chat}}

	listening := testAgent("listening")
	disabled := testAgent("disabled", func(a *Agent) { a.Disable = true })
	deaf := testAgent("deaf", func(a *Agent) { a.Subscribe = []string{"plan/user_task_init"} })

	conv := testConversation(listening, disabled, deaf)
	orch := NewOrchestrator(provider, NewToolRegistry(), conv, WithRetryPolicy(fastRetry()))
	if err := orch.Dispatch(context.Background(), NewEvent("act/user_task_init", "go")); err != nil {
		t.Fatal(err)
	}

	snapshot := orch.Conversation()
	if snapshot.TurnCount("listening") != 1 {
		t.Errorf("listening turns = %d, want 1", snapshot.TurnCount("listening"))
	}
	if snapshot.TurnCount("disabled") != 0 || snapshot.TurnCount("deaf") != 0 {
		t.Error("disabled/deaf agents must not run")
	}
}

func TestMaxTurnsExcludesAgent(t *testing.T) {
	chat := []CompletionChunk{textChunk("hi"), finishChunk(FinishStop)}
	provider := &mockProvider{scripts: [][]CompletionChunk{chat, chat, chat}}
	agent := testAgent("main", func(a *Agent) { a.MaxTurns = 1 })

	conv := testConversation(agent)
	orch := NewOrchestrator(provider, NewToolRegistry(), conv, WithRetryPolicy(fastRetry()))
	ctx := context.Background()
	if err := orch.Dispatch(ctx, NewEvent("act/user_task_init", "one")); err != nil {
		t.Fatal(err)
	}
	if err := orch.Dispatch(ctx, NewEvent("act/user_task_init", "two")); err != nil {
		t.Fatal(err)
	}

	snapshot := orch.Conversation()
	if snapshot.TurnCount("main") != 1 {
		t.Errorf("turn count = %d, want 1 (second event must not enqueue)", snapshot.TurnCount("main"))
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.callCount())
	}
}

func TestEventsProcessedInFIFOOrder(t *testing.T) {
	chat := func() []CompletionChunk {
		return []CompletionChunk{textChunk("ok"), finishChunk(FinishStop)}
	}
	provider := &mockProvider{scripts: [][]CompletionChunk{chat(), chat(), chat()}}
	agent := testAgent("main")

	conv := testConversation(agent)
	orch := NewOrchestrator(provider, NewToolRegistry(), conv, WithRetryPolicy(fastRetry()))

	// Enqueue three events before waking, then drain the queue once.
	conv.InsertEvent(NewEvent("act/user_task_init", "first"))
	conv.InsertEvent(NewEvent("act/user_task_init", "second"))
	conv.InsertEvent(NewEvent("act/user_task_init", "third"))
	if err := orch.wakeAgent(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}

	// Each turn starts a fresh user message; request order must follow
	// insertion order.
	if len(provider.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(provider.requests))
	}
	for i, want := range []string{"first", "second", "third"} {
		msgs := provider.requests[i].Messages
		var lastUser string
		for _, m := range msgs {
			if m.Role == RoleUser {
				lastUser = m.Content
			}
		}
		if lastUser != want {
			t.Errorf("request %d user message = %q, want %q", i, lastUser, want)
		}
	}
}

func TestDispatchFailsOnlyOnPersistence(t *testing.T) {
	chat := []CompletionChunk{textChunk("hi"), finishChunk(FinishStop)}
	provider := &mockProvider{scripts: [][]CompletionChunk{chat}}
	store := &memStore{failNext: true}
	agent := testAgent("main")

	conv := testConversation(agent)
	orch := NewOrchestrator(provider, NewToolRegistry(), conv,
		WithStore(store), WithRetryPolicy(fastRetry()))
	err := orch.Dispatch(context.Background(), NewEvent("act/user_task_init", "go"))
	if !errors.Is(err, errPersist) {
		t.Fatalf("err = %v, want persistence failure", err)
	}
}

func TestHideContentSuppressesText(t *testing.T) {
	provider := &mockProvider{scripts: [][]CompletionChunk{{
		textChunk("secret reasoning"),
		finishChunk(FinishStop),
	}}}
	agent := testAgent("main", func(a *Agent) { a.HideContent = true })

	messages, _, err := runTurn(t, provider, NewToolRegistry(), agent, "go")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range messages {
		if m.Event.Type == EventText {
			t.Fatalf("text event leaked despite hide_content: %+v", m.Event)
		}
	}
	if messages[len(messages)-1].Event.Type != EventComplete {
		t.Error("complete event must still be delivered")
	}
}

func TestClosedConsumerStopsQuietly(t *testing.T) {
	provider := &mockProvider{scripts: [][]CompletionChunk{{
		textChunk("hello"),
		finishChunk(FinishStop),
	}}}
	agent := testAgent("main")
	conv := testConversation(agent)

	sender, _, stop := NewSender(0)
	stop() // consumer gone before the turn starts

	orch := NewOrchestrator(provider, NewToolRegistry(), conv,
		WithSender(sender), WithRetryPolicy(fastRetry()))
	if err := orch.Dispatch(context.Background(), NewEvent("act/user_task_init", "go")); err != nil {
		t.Fatalf("closed consumer must abort quietly, got %v", err)
	}
}

func TestVariableRoundTrip(t *testing.T) {
	provider := &mockProvider{}
	conv := testConversation(testAgent("main"))
	orch := NewOrchestrator(provider, NewToolRegistry(), conv)

	orch.SetVariable("k", "v")
	if v, ok := orch.GetVariable("k"); !ok || v != "v" {
		t.Errorf("get after set = %v, %v", v, ok)
	}
	if !orch.DeleteVariable("k") {
		t.Error("delete should report presence")
	}
	if _, ok := orch.GetVariable("k"); ok {
		t.Error("get after delete should be absent")
	}
	if orch.DeleteVariable("k") {
		t.Error("second delete should report absence")
	}
}

func TestMeterCountsTurnActivity(t *testing.T) {
	provider := &mockProvider{scripts: [][]CompletionChunk{
		{ // iteration 1: tool call plus reported usage
			partChunk("foo", "c1", `{}`),
			{Usage: &Usage{PromptTokens: 10, CompletionTokens: 4}},
			finishChunk(FinishToolCalls),
		},
		{ // iteration 2: final text; message threshold trips after this
			textChunk("done"),
			finishChunk(FinishStop),
		},
		{ // summarizer
			textChunk("summary"),
		},
	}}
	tool := &mockTool{name: "foo", content: "ok"}
	meter := &mockMeter{}
	agent := testAgent("main", func(a *Agent) {
		a.Tools = []string{"foo"}
		a.Compact = &Compact{Model: "small", RetentionWindow: 0, MessageThreshold: 3}
	})

	_, _, err := runTurn(t, provider, NewToolRegistry(tool), agent, "go", WithMeter(meter))
	if err != nil {
		t.Fatal(err)
	}

	if len(meter.tokens) != 1 || meter.tokens[0].PromptTokens != 10 || meter.tokens[0].CompletionTokens != 4 {
		t.Errorf("token counts = %+v", meter.tokens)
	}
	if meter.turns != 1 {
		t.Errorf("turns = %d, want 1", meter.turns)
	}
	if len(meter.tools) != 1 || meter.tools[0] != "foo" || meter.toolErrors != 0 {
		t.Errorf("tool counts = %v (errors %d)", meter.tools, meter.toolErrors)
	}
	if meter.compactions != 1 {
		t.Errorf("compactions = %d, want 1", meter.compactions)
	}
}

func TestMissingModelFailsTurn(t *testing.T) {
	provider := &mockProvider{}
	agent := testAgent("main", func(a *Agent) { a.Model = "" })

	_, _, err := runTurn(t, provider, NewToolRegistry(), agent, "go")
	var missing *ErrMissingModel
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want ErrMissingModel", err)
	}
}
