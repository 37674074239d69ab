package mcp

import (
	"context"
	"errors"
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/swarmerr"
)

type fakeClient struct {
	listResp  *gomcp.ListToolsResult
	listErr   error
	callResp  *gomcp.CallToolResult
	callErr   error
}

func (f *fakeClient) ListTools(context.Context, gomcp.ListToolsRequest) (*gomcp.ListToolsResult, error) {
	return f.listResp, f.listErr
}

func (f *fakeClient) CallTool(context.Context, gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	return f.callResp, f.callErr
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// timeoutErrWithRequestID simulates a transport timeout that also carries
// the id of the request the server was answering, exercising spec §8 S6's
// "[request_id: r1]" requirement.
type timeoutErrWithRequestID struct {
	id string
}

func (e timeoutErrWithRequestID) Error() string     { return "timed out" }
func (e timeoutErrWithRequestID) Timeout() bool     { return true }
func (e timeoutErrWithRequestID) Temporary() bool   { return true }
func (e timeoutErrWithRequestID) RequestID() string { return e.id }

// rpcErr simulates a JSON-RPC error envelope the remote server returned,
// carrying both a request id and a numeric error code.
type rpcErr struct {
	id   string
	code int
}

func (e rpcErr) Error() string     { return "remote error" }
func (e rpcErr) RequestID() string { return e.id }
func (e rpcErr) Code() int         { return e.code }

func TestStubSchemaLazyLoad(t *testing.T) {
	fc := &fakeClient{
		listResp: &gomcp.ListToolsResult{
			Tools: []gomcp.Tool{{
				Name:        "search",
				Description: "search the web",
				InputSchema: gomcp.ToolInputSchema{Type: "object"},
			}},
		},
	}
	s := NewStub(fc, "S", "search", "placeholder")
	require.Equal(t, "placeholder", s.Description())
	_ = s.ParamsSchema()
	require.Equal(t, "search the web", s.Description())
}

func TestStubTimeoutWrapping(t *testing.T) {
	fc := &fakeClient{callErr: timeoutErr{}}
	s := NewStub(fc, "S", "T", "")
	_, err := s.Execute(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var mcpErr *swarmerr.MCPError
	require.True(t, errors.As(err, &mcpErr))
	require.Equal(t, swarmerr.MCPErrorKindTimeout, mcpErr.Kind)
	require.Contains(t, err.Error(), "[server: S]")
	require.Contains(t, err.Error(), "[tool: T]")
}

// TestStubTimeoutWrappingWithRequestID exercises spec §8 S6 literally:
// a timeout carrying request_id "r1" and message "timed out" must raise an
// MCPTimeoutError whose message contains [server: S], [tool: T],
// [request_id: r1], and the original text.
func TestStubTimeoutWrappingWithRequestID(t *testing.T) {
	fc := &fakeClient{callErr: timeoutErrWithRequestID{id: "r1"}}
	s := NewStub(fc, "S", "T", "")
	_, err := s.Execute(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var mcpErr *swarmerr.MCPError
	require.True(t, errors.As(err, &mcpErr))
	require.Equal(t, swarmerr.MCPErrorKindTimeout, mcpErr.Kind)
	require.Equal(t, "r1", mcpErr.RequestID)
	require.Contains(t, err.Error(), "[server: S]")
	require.Contains(t, err.Error(), "[tool: T]")
	require.Contains(t, err.Error(), "[request_id: r1]")
	require.Contains(t, err.Error(), "timed out")
}

// TestStubProtocolErrorWrapping covers the non-timeout branch of spec §4.5's
// request-id/code propagation: a JSON-RPC error envelope with a code and no
// Timeout() method wraps into an MCPError carrying [request_id: ...] and
// [code: ...].
func TestStubProtocolErrorWrapping(t *testing.T) {
	fc := &fakeClient{callErr: rpcErr{id: "r2", code: -32601}}
	s := NewStub(fc, "S", "T", "")
	_, err := s.Execute(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var mcpErr *swarmerr.MCPError
	require.True(t, errors.As(err, &mcpErr))
	require.Equal(t, swarmerr.MCPErrorKindProtocol, mcpErr.Kind)
	require.Contains(t, err.Error(), "[request_id: r2]")
	require.Contains(t, err.Error(), "[code: -32601]")
}
