// Package permissions implements the per-tool, per-agent permission policy
// (spec §6): regex allow/deny lists matched against a guarded operation's
// primary string argument (a Bash command, a file path) before execution.
package permissions

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/swarmkit/swarmkit/swarmerr"
	"github.com/swarmkit/swarmkit/tools"
)

// Policy holds compiled allow/deny expressions for one tool.
type Policy struct {
	Allowed []*regexp.Regexp
	Denied  []*regexp.Regexp
}

// Compile compiles raw allow/deny pattern strings into a Policy.
func Compile(allowed, denied []string) (*Policy, error) {
	p := &Policy{}
	for _, pat := range allowed {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		p.Allowed = append(p.Allowed, re)
	}
	for _, pat := range denied {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		p.Denied = append(p.Denied, re)
	}
	return p, nil
}

// Allows reports whether value is permitted: denied patterns always win;
// absent an Allowed list, anything not denied is permitted.
func (p *Policy) Allows(value string) bool {
	if p == nil {
		return true
	}
	for _, re := range p.Denied {
		if re.MatchString(value) {
			return false
		}
	}
	if len(p.Allowed) == 0 {
		return true
	}
	for _, re := range p.Allowed {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// argExtractors names, per tool, which JSON field of the call arguments is
// the string checked against the policy (spec §6 examples: Bash command
// string, Edit file path).
var argExtractors = map[string]string{
	"Bash":  "command",
	"Read":  "file_path",
	"Write": "file_path",
	"Edit":  "file_path",
}

// Guard wraps a tools.Tool with a permission Policy, matching spec §6's Tool
// Factory wrapping step. When the tool is not in argExtractors, the guard
// never denies (there is nothing policy-relevant to match against).
type Guard struct {
	tools.Tool
	agent  string
	policy *Policy
}

// Wrap returns t wrapped with policy for diagnostics attributed to agent.
// A nil policy makes Wrap a passthrough.
func Wrap(t tools.Tool, agent string, policy *Policy) tools.Tool {
	if policy == nil {
		return t
	}
	return &Guard{Tool: t, agent: agent, policy: policy}
}

func (g *Guard) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	field, ok := argExtractors[g.Tool.Name()]
	if ok {
		var probe map[string]any
		if err := json.Unmarshal(args, &probe); err == nil {
			if v, ok := probe[field].(string); ok {
				if !g.policy.Allows(v) {
					return nil, &swarmerr.PermissionDenied{Tool: g.Tool.Name(), Agent: g.agent, Value: v}
				}
			}
		}
	}
	return g.Tool.Execute(ctx, args)
}

// ParamsSchema delegates to the wrapped tool; present so Guard satisfies
// tools.Tool explicitly (Go would otherwise promote it from the embedded
// field, but this keeps the intent visible next to Execute's override).
func (g *Guard) ParamsSchema() *jsonschema.Schema { return g.Tool.ParamsSchema() }

// RawSchema forwards to the wrapped tool when it implements
// tools.RawSchemaProvider, so wrapping with a Guard never hides the original
// JSON Schema document from an llm adapter.
func (g *Guard) RawSchema() json.RawMessage {
	if rp, ok := g.Tool.(tools.RawSchemaProvider); ok {
		return rp.RawSchema()
	}
	return nil
}
