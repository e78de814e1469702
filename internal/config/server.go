// Package config provides server descriptors, orchestrator options, and the
// transport interface shared by the protocol and pool packages.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
)

// ServerType represents the transport kind of a downstream tool server.
type ServerType string

const (
	// ServerTypeStdio spawns a subprocess and speaks newline-delimited JSON
	// over its standard streams.
	ServerTypeStdio ServerType = "stdio"
	// ServerTypeHTTP posts each JSON-RPC message to an HTTP endpoint.
	ServerTypeHTTP ServerType = "http"
)

// ServerConfig is the interface for downstream server descriptors.
// Descriptors are loaded once from configuration and are immutable after
// load.
type ServerConfig interface {
	GetType() ServerType
	Common() *CommonConfig
}

// Compile-time verification that all descriptor types implement ServerConfig.
var (
	_ ServerConfig = (*StdioServerConfig)(nil)
	_ ServerConfig = (*HTTPServerConfig)(nil)
)

// CommonConfig holds the flags shared by every descriptor kind.
type CommonConfig struct {
	// Lazy defers startup until the first ensure-loaded demand.
	Lazy bool `json:"lazy,omitempty"`
	// Disabled servers are registered but never loaded.
	Disabled bool `json:"disabled,omitempty"`
}

// StdioServerConfig describes a subprocess-backed server.
type StdioServerConfig struct {
	Type    *ServerType       `json:"type,omitempty"` // Optional for backwards compatibility
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	CommonConfig
}

// GetType implements ServerConfig.
func (c *StdioServerConfig) GetType() ServerType {
	if c.Type != nil {
		return *c.Type
	}

	return ServerTypeStdio
}

// Common implements ServerConfig.
func (c *StdioServerConfig) Common() *CommonConfig { return &c.CommonConfig }

// HTTPServerConfig describes an HTTP-backed server.
type HTTPServerConfig struct {
	Type    ServerType        `json:"type"` // "http"
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	CommonConfig
}

// GetType implements ServerConfig.
func (c *HTTPServerConfig) GetType() ServerType { return ServerTypeHTTP }

// Common implements ServerConfig.
func (c *HTTPServerConfig) Common() *CommonConfig { return &c.CommonConfig }

// LoadConfig parses a configuration document mapping server name to
// descriptor. The document is consumed once at startup and never re-read.
//
// Descriptor kind is chosen by the "type" field; for backwards compatibility
// a descriptor without a type is stdio when it has a "command" and http when
// it has a "url".
func LoadConfig(data []byte) (map[string]ServerConfig, error) {
	var doc map[string]json.RawMessage

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Allow the map to be wrapped in a top-level "servers" object.
	if servers, ok := doc["servers"]; ok && len(doc) == 1 {
		if err := json.Unmarshal(servers, &doc); err != nil {
			return nil, fmt.Errorf("parse servers: %w", err)
		}
	}

	configs := make(map[string]ServerConfig, len(doc))

	// Deterministic error reporting.
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		cfg, err := decodeServer(doc[name])
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}

		configs[name] = cfg
	}

	return configs, nil
}

// LoadConfigFile reads and parses a configuration file.
func LoadConfigFile(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return LoadConfig(data)
}

func decodeServer(raw json.RawMessage) (ServerConfig, error) {
	var probe struct {
		Type    *ServerType `json:"type"`
		Command string      `json:"command"`
		URL     string      `json:"url"`
	}

	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	kind := ServerTypeStdio

	switch {
	case probe.Type != nil:
		kind = *probe.Type
	case probe.URL != "" && probe.Command == "":
		kind = ServerTypeHTTP
	}

	switch kind {
	case ServerTypeStdio:
		var cfg StdioServerConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}

		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio descriptor missing command")
		}

		return &cfg, nil

	case ServerTypeHTTP:
		var cfg HTTPServerConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}

		if cfg.URL == "" {
			return nil, fmt.Errorf("http descriptor missing url")
		}

		if _, err := url.ParseRequestURI(cfg.URL); err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}

		return &cfg, nil

	default:
		return nil, fmt.Errorf("unknown server type %q", kind)
	}
}
