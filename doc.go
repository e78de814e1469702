// Package codemode orchestrates a fleet of downstream tool servers on behalf
// of a single controlling client.
//
// Servers are described once by configuration and started lazily: the first
// demand for a server performs the handshake, concurrent demands join it, and
// repeated failures trip a retry cap until explicitly reset. A server that
// turns out to be another instance of this orchestrator is refused
// permanently, which is what keeps a misconfigured setup from spawning
// copies of itself forever.
//
// Results can be returned raw or rendered through the toon subpackage's
// compact tabular text format.
package codemode
