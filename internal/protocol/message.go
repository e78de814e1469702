package protocol

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// ProtocolVersion is the handshake protocol revision sent in initialize.
const ProtocolVersion = "2024-11-05"

// Request is an outgoing JSON-RPC 2.0 envelope. A nil ID makes it a
// notification: no reply is expected.
//
// Wire format:
//
//	{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{...}}
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Identity is the identity block exchanged during initialize. The vendor tag
// and signature are how one orchestrator instance recognizes another.
type Identity struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	Vendor    string `json:"vendor,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ToolDescriptor describes one tool offered by a downstream server, as
// captured from its tools/list response. The input schema is carried
// opaquely; use Schema for typed access.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Schema decodes the tool's input schema. The catalog stores schemas raw so
// that unknown vocabulary passes through untouched; decoding happens only
// when a caller wants typed access.
func (t *ToolDescriptor) Schema() (*jsonschema.Schema, error) {
	if len(t.InputSchema) == 0 {
		return nil, nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
		return nil, err
	}

	return &schema, nil
}

// responseID extracts the numeric id from an incoming message.
// JSON numbers arrive as float64 from the transport decode.
func responseID(msg map[string]any) (int64, bool) {
	switch id := msg["id"].(type) {
	case float64:
		return int64(id), true
	case json.Number:
		n, err := id.Int64()

		return n, err == nil
	default:
		return 0, false
	}
}

// errorMessage extracts the message from a response error field, if any.
func errorMessage(msg map[string]any) (string, bool) {
	errField, ok := msg["error"]
	if !ok || errField == nil {
		return "", false
	}

	if m, ok := errField.(map[string]any); ok {
		if s, ok := m["message"].(string); ok {
			return s, true
		}
	}

	if s, ok := errField.(string); ok {
		return s, true
	}

	return "unknown error", true
}

// identityFromResult extracts the downstream server's declared identity from
// an initialize result. Servers declare themselves under serverInfo; older
// counterpart implementations echo a clientInfo block instead.
func identityFromResult(result map[string]any) Identity {
	for _, key := range []string{"serverInfo", "clientInfo"} {
		info, ok := result[key].(map[string]any)
		if !ok {
			continue
		}

		id := Identity{}

		if s, ok := info["name"].(string); ok {
			id.Name = s
		}

		if s, ok := info["version"].(string); ok {
			id.Version = s
		}

		if s, ok := info["vendor"].(string); ok {
			id.Vendor = s
		}

		if s, ok := info["signature"].(string); ok {
			id.Signature = s
		}

		if id != (Identity{}) {
			return id
		}
	}

	return Identity{}
}

// isSelfReference reports whether the downstream identity belongs to another
// instance of this orchestrator.
//
// The vendor+signature match is authoritative. The name-based fallbacks keep
// compatibility with older counterpart implementations that omit the
// vendor/signature fields; a name-only match can false-positive when two
// unrelated servers legitimately share a name, which is accepted as the cost
// of never spawning recursively.
func isSelfReference(remote, self Identity) bool {
	if remote.Vendor != "" && remote.Signature != "" &&
		remote.Vendor == self.Vendor && remote.Signature == self.Signature {
		return true
	}

	if remote.Name == "" || remote.Name != self.Name {
		return false
	}

	if remote.Vendor == self.Vendor || remote.Signature == self.Signature {
		return true
	}

	// Name-only fallback for peers that declare no vendor or signature.
	return remote.Vendor == "" && remote.Signature == ""
}
