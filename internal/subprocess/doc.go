// Package subprocess implements the stdio transport: it spawns a downstream
// tool server and exchanges newline-delimited JSON over its standard streams.
package subprocess
