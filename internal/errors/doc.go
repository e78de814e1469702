// Package errors defines the orchestrator's error taxonomy.
//
// Every error carries the server name and, where applicable, the tool name
// and the underlying transport message, so callers can tell "this server
// doesn't exist", "this server is broken", and "this specific call failed"
// apart without inspecting internals.
package errors
