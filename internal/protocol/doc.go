// Package protocol implements the JSON-RPC 2.0 conversation with one
// downstream tool server: the initialize/initialized/tools-list handshake
// with self-reference detection, and id-correlated request/response exchange
// over either transport kind.
package protocol
