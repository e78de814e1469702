// Package toon implements the compact tabular text format used on the wire
// between the orchestrator and its controlling client.
//
// The format is plain UTF-8 text, newline separated, with two-space
// indentation per nesting level. Uniform arrays of objects collapse into a
// header-once, rows-after tabular block:
//
//	users[3]{id,name,email}:
//	  1,Alice,alice@x.com
//	  2,Bob,bob@x.com
//	  3,Charlie,charlie@x.com
//
// Encode then Decode reproduces the input's semantic content: strings that
// look like booleans, numbers, or null are quoted on encode so they come back
// as strings.
package toon
