// Package mcp implements the MCP Tool Stub (C5): a lazily-initialized proxy
// for a remote tool exposed over the Model Context Protocol. The transport
// itself (stdio/SSE/streamable-http framing) is an external collaborator per
// spec §1; this package owns only the proxy/caching/error-wrapping contract
// in front of a github.com/mark3labs/mcp-go client.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/swarmkit/swarmkit/swarmerr"
)

// Client is the narrow surface the stub needs from an mcp-go client.Client,
// declared here so tests can substitute a fake without standing up a real
// subprocess or HTTP server.
type Client interface {
	ListTools(ctx context.Context, req gomcp.ListToolsRequest) (*gomcp.ListToolsResult, error)
	CallTool(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error)
}

var _ Client = (*client.Client)(nil)

// Stub is a lazy-loaded proxy for one remote tool. ParamsSchema fetches and
// caches the schema (and overwrites the placeholder description) on first
// access; Execute forwards to the underlying client with the same error
// wrapping rules.
type Stub struct {
	mu          sync.Mutex
	client      Client
	serverName  string
	toolName    string
	placeholder string
	schema      *jsonschema.Schema
	rawSchema   json.RawMessage
	description string
	loaded      bool
	removable   bool
}

// NewStub returns a Stub bound to client for the named remote tool. server
// defaults to "unknown" when empty (spec §4.5).
func NewStub(c Client, server, tool, placeholderDescription string) *Stub {
	if server == "" {
		server = "unknown"
	}
	return &Stub{
		client:      c,
		serverName:  server,
		toolName:    tool,
		placeholder: placeholderDescription,
		description: placeholderDescription,
		removable:   true,
	}
}

func (s *Stub) Name() string     { return s.toolName }
func (s *Stub) Removable() bool  { return s.removable }

// Description returns the cached description, refreshed by the first
// successful schema load.
func (s *Stub) Description() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.description
}

// ParamsSchema triggers the lazy schema fetch on first access. A schema load
// failure is cached as "no schema" (schema stays nil) but the stub remains
// usable per spec §4.5 ("though the LLM will likely get a 400").
func (s *Stub) ParamsSchema() *jsonschema.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.schema
	}
	s.loaded = true

	resp, err := s.client.ListTools(context.Background(), gomcp.ListToolsRequest{})
	if err != nil {
		// Schema load errors are not currently surfaced through this getter
		// (spec §4.5 draws the wrapping contract around Execute and the
		// original tool_info call; ParamsSchema degrades to nil on failure).
		return nil
	}
	for _, t := range resp.Tools {
		if t.Name != s.toolName {
			continue
		}
		if t.Description != "" {
			s.description = t.Description
		}
		schemaBytes, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		compiled, err := compileInline(s.toolName, schemaBytes)
		if err != nil {
			return nil
		}
		s.schema = compiled
		s.rawSchema = schemaBytes
		return s.schema
	}
	// Tool not found server-side: schema stays nil, stub stays usable.
	return nil
}

// RawSchema returns the JSON Schema document fetched from the remote server,
// satisfying tools.RawSchemaProvider so llm adapters can forward the real
// schema instead of re-deriving it from the compiled validator. Nil until
// ParamsSchema has been called and has successfully loaded one.
func (s *Stub) RawSchema() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawSchema
}

func compileInline(name string, schemaJSON []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	resource := "mcp://" + name
	if err := c.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}

// Execute forwards args to the remote tool, wrapping transport/timeout/
// protocol failures into the corresponding swarmerr.MCPError per spec §4.5
// and §8 S6.
func (s *Stub) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var argMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argMap); err != nil {
			return nil, err
		}
	}
	req := gomcp.CallToolRequest{}
	req.Params.Name = s.toolName
	req.Params.Arguments = argMap

	resp, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, s.wrapError(err)
	}
	if resp.IsError {
		return nil, s.wrapError(fmt.Errorf("remote tool reported an error"))
	}
	var parts []string
	for _, c := range resp.Content {
		if tc, ok := c.(gomcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts, nil
}

// wrapError classifies the underlying transport failure per spec §4.5:
// timeout, transport, and protocol errors are re-raised as the corresponding
// domain error with server/tool/request-id/code appended (spec §8 S6).
func (s *Stub) wrapError(err error) error {
	requestID, code := rpcMeta(err)

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return swarmerr.MCPTimeoutError(s.serverName, s.toolName, requestID, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return swarmerr.MCPTimeoutError(s.serverName, s.toolName, requestID, err)
	}
	if code != "" {
		return swarmerr.MCPProtocolError(s.serverName, s.toolName, requestID, code, err)
	}
	return swarmerr.MCPTransportError(s.serverName, s.toolName, requestID, err)
}

// requestIDer is implemented by the JSON-RPC error mcp-go's transport
// returns when the server replies with a structured error envelope, letting
// the stub recover the id of the request that failed. Matched by shape
// rather than mcp-go's concrete error type, the same way wrapError above
// duck-types net.Error's Timeout() rather than importing the net package.
type requestIDer interface {
	error
	RequestID() string
}

// rpcCoder is implemented alongside requestIDer when the server's error
// envelope also carried a JSON-RPC error code.
type rpcCoder interface {
	error
	Code() int
}

// rpcMeta extracts the JSON-RPC request id and error code off err when the
// underlying transport failure exposes them, so the appended context in the
// wrapped domain error (spec §4.5 "server, tool, and (if present)
// request-id/code") reflects what the remote server actually reported
// rather than always going blank.
func rpcMeta(err error) (requestID, code string) {
	var idErr requestIDer
	if errors.As(err, &idErr) {
		requestID = idErr.RequestID()
	}
	var codeErr rpcCoder
	if errors.As(err, &codeErr) {
		code = strconv.Itoa(codeErr.Code())
	}
	return requestID, code
}
