// Package swarmerr defines the closed error taxonomy shared across the
// engine, delegation router, tool registry, and CLI. Every exported type
// implements Unwrap where it wraps a cause so callers can use errors.As and
// errors.Is instead of string matching.
package swarmerr

import "fmt"

// ConfigurationError reports malformed or missing configuration: unknown
// tools, missing tool creation requirements, invalid agent definitions.
type ConfigurationError struct {
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// ExecutionError is the CLI-level surface for a user-visible run failure.
type ExecutionError struct {
	Reason string
	Cause  error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("execution error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("execution error: %s", e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// AgentNotFoundError reports delegation to an agent name that either isn't
// declared in the delegator's DelegationTargets or doesn't exist in the swarm.
type AgentNotFoundError struct {
	Agent string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent not found: %q", e.Agent)
}

// MCPErrorKind discriminates the three wrapping shapes spec §4.5 requires.
type MCPErrorKind string

const (
	MCPErrorKindTimeout   MCPErrorKind = "timeout"
	MCPErrorKindTransport MCPErrorKind = "transport"
	MCPErrorKindProtocol  MCPErrorKind = "protocol"
)

// MCPError wraps a remote tool failure with server/tool/request-id context.
// MCPTimeoutError and MCPTransportError are constructors that set Kind
// accordingly; callers should errors.As against *MCPError and branch on Kind
// rather than expect distinct concrete types, matching spec §4.5's "re-raised
// as the corresponding domain errors".
type MCPError struct {
	Kind      MCPErrorKind
	Server    string
	Tool      string
	RequestID string
	Code      string
	Cause     error
}

func (e *MCPError) Error() string {
	msg := fmt.Sprintf("[server: %s] [tool: %s]", e.Server, e.Tool)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" [request_id: %s]", e.RequestID)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [code: %s]", e.Code)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MCPError) Unwrap() error { return e.Cause }

// MCPTimeoutError constructs an *MCPError with Kind set to timeout.
func MCPTimeoutError(server, tool, requestID string, cause error) *MCPError {
	return &MCPError{Kind: MCPErrorKindTimeout, Server: server, Tool: tool, RequestID: requestID, Cause: cause}
}

// MCPTransportError constructs an *MCPError with Kind set to transport.
func MCPTransportError(server, tool, requestID string, cause error) *MCPError {
	return &MCPError{Kind: MCPErrorKindTransport, Server: server, Tool: tool, RequestID: requestID, Cause: cause}
}

// MCPProtocolError constructs an *MCPError with Kind set to protocol.
func MCPProtocolError(server, tool, requestID, code string, cause error) *MCPError {
	return &MCPError{Kind: MCPErrorKindProtocol, Server: server, Tool: tool, RequestID: requestID, Code: code, Cause: cause}
}

// PermissionDenied reports that a permission policy rejected a tool
// invocation before execution.
type PermissionDenied struct {
	Tool  string
	Agent string
	Value string // the matched/denied argument value, for diagnostics
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: agent %q may not invoke %q with %q", e.Agent, e.Tool, e.Value)
}

// ContextOverflow reports that a single tool result alone would exceed the
// model's context window. Hint carries an offset/limit suggestion for
// file-read-shaped tools.
type ContextOverflow struct {
	Tool string
	Hint string
}

func (e *ContextOverflow) Error() string {
	return fmt.Sprintf("tool %q result exceeds context window: %s", e.Tool, e.Hint)
}

// ReadBeforeWriteViolation reports a write/edit attempted on a file the
// agent has not read, or whose on-disk digest has changed since it was read.
type ReadBeforeWriteViolation struct {
	Path string
}

func (e *ReadBeforeWriteViolation) Error() string {
	return fmt.Sprintf("must read %q before writing to it", e.Path)
}

// Cancelled reports that the user or a parent execution cancelled the run.
type Cancelled struct {
	Reason string
}

func (e *Cancelled) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return "cancelled: " + e.Reason
}
