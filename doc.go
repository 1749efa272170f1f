// Package anvil is an autonomous coding-agent runtime for Go.
//
// It drives one or more LLM-backed agents through multi-turn, tool-using
// conversations against a workspace. Three subsystems make up the core:
//
//   - [Orchestrator] — an event-driven scheduler that dispatches events to
//     subscribed agents, drives each agent's think/act loop, and enforces
//     turn, retry, and compaction policies.
//   - the streaming chat pipeline — consumes an incremental provider stream
//     (text deltas plus tool-call deltas), reassembles complete tool calls
//     (JSON-formatted or XML-embedded), interleaves tool execution, and feeds
//     results back into context.
//   - [Compactor] — detects when a conversation exceeds a size threshold,
//     locates a compressible sub-sequence respecting tool-call atomicity and a
//     retention window, and replaces it with an LLM-generated summary.
//
// # Quick Start
//
// Load a workflow, materialize a conversation, and dispatch an event:
//
//	wf, _ := anvil.LoadWorkflow("workflow.toml")
//	conv := anvil.NewConversation(anvil.NewID(), wf)
//	store := sqlite.New("anvil.db")
//	_ = store.Init(ctx) // creates the conversations table
//	orch := anvil.NewOrchestrator(provider, tools, conv,
//		anvil.WithStore(store),
//		anvil.WithSender(sender),
//	)
//	orch.Dispatch(ctx, anvil.NewEvent("act/user_task_init", "fix the failing test"))
//
// # Core Interfaces
//
// The root package defines the contracts all components implement:
//
//   - [Provider] — streaming LLM backend (chat completions as delta chunks)
//   - [ToolService] — pluggable tool surface (list, call, usage prompt)
//   - [ConversationStore] — conversation persistence
//   - [AttachmentService] — file references folded into context
//   - [Tracer] — span creation for agent turns and compaction passes
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible SSE), provider/anthropic.
// Storage: store/sqlite (local), store/postgres.
// Tools: tools/fs, tools/patch, tools/shell, tools/fetch.
// Tracing: observer (OpenTelemetry).
//
// See cmd/anvil for a complete reference application.
package anvil
