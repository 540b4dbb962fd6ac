// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with language / reasoning models inside AgentStream.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Support bidirectional streaming sessions (LiveModel, Connection)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel, MockLiveModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (agents, flows) remain decoupled from vendor SDKs.
package model
