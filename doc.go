// Package conduit is a multi-agent chat orchestration engine.
//
// Prompts arrive from one or more chat-surface adapters (long-polled bot
// APIs, push channels, terminals). The engine groups them by thread,
// materializes a long-lived agent per thread, streams model output back
// through the originating surface, and lets disconnected clients resume
// an in-flight stream. It does not implement any concrete LLM client,
// messenger transport, or tool: those are supplied by callers through the
// interfaces defined here.
//
// # Core pieces
//
//   - [ThreadRegistry] owns per-thread state and cancellation.
//   - [StreamingGrouper] fans the merged prompt stream out by [ThreadKey].
//   - [AgentRunner] drives one [DisposableAgent] per open group.
//   - [UpdatePairer] coalesces raw [ModelUpdate] deltas into [CoalescedMessage]s.
//   - [ResponseFanOut] merges per-thread output fairly and dispatches to surfaces.
//   - [ReconnectionBuffer] lets a push surface resume a dropped stream.
//
// The client package mirrors the receiving side of a push surface with a
// small unidirectional store.
package conduit
