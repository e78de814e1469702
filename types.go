package codemode

import (
	"github.com/ziad-hsn/code-mode-toon/internal/config"
	"github.com/ziad-hsn/code-mode-toon/internal/pool"
	"github.com/ziad-hsn/code-mode-toon/internal/protocol"
)

// Server descriptor types, re-exported from the internal config package.
type (
	// ServerConfig describes one downstream tool server.
	ServerConfig = config.ServerConfig
	// StdioServerConfig describes a subprocess-backed server.
	StdioServerConfig = config.StdioServerConfig
	// HTTPServerConfig describes an HTTP-backed server.
	HTTPServerConfig = config.HTTPServerConfig
	// ServerType is the transport kind of a server.
	ServerType = config.ServerType
	// CommonConfig holds the lazy/disabled flags shared by all descriptors.
	CommonConfig = config.CommonConfig
)

// Transport kinds.
const (
	ServerTypeStdio = config.ServerTypeStdio
	ServerTypeHTTP  = config.ServerTypeHTTP
)

// ToolDescriptor describes one tool offered by a downstream server.
type ToolDescriptor = protocol.ToolDescriptor

// Identity is the identity block exchanged during the handshake.
type Identity = protocol.Identity

// ServerState is the lifecycle state of a registered server.
type ServerState = pool.State

// Server lifecycle states.
const (
	StateUnloaded = pool.StateUnloaded
	StateLoading  = pool.StateLoading
	StateReady    = pool.StateReady
	StateFailed   = pool.StateFailed
)

// LoadConfig parses a JSON document mapping server name to descriptor.
func LoadConfig(data []byte) (map[string]ServerConfig, error) {
	return config.LoadConfig(data)
}

// LoadConfigFile reads and parses a configuration file.
func LoadConfigFile(path string) (map[string]ServerConfig, error) {
	return config.LoadConfigFile(path)
}
