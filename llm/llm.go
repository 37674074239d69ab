// Package llm declares the provider-agnostic seam between the Agent
// Conversation Engine and a model backend. Spec §1 puts the wire protocol
// and HTTP transport out of scope; Provider is the narrow contract the
// engine depends on so it never imports a vendor SDK directly.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/swarmkit/swarmkit/model"
	"github.com/swarmkit/swarmkit/tools"
)

// ToolSpec is the minimal shape a Provider needs to render the model's
// function-calling schema for one tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      any // JSON-schema document, provider-encoded
}

// Request bundles one turn's conversation and available tools.
type Request struct {
	Model        string
	SystemPrompt string
	Conversation *model.Conversation
	Tools        []ToolSpec
}

// Response is a Provider's reply: either an assistant message with tool
// calls (continue the loop) or a final assistant message with none (stop).
type Response struct {
	Message *model.Message
	Usage   model.TokenUsage
}

// Provider is the seam every vendor adapter implements. A single transient
// retry on a timeout is the provider's responsibility per spec §5; beyond
// that, a timeout surfaces as an error for the engine to convert into a
// user-visible message (spec §4.6 "If the LLM transport fails...").
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ErrTransport wraps every error returned by a provider SDK call (HTTP
// failures, connection resets and timeouts alike) so callers can distinguish
// it from a successfully-parsed model refusal. Errors raised while translating
// a received response are returned without it.
var ErrTransport = errors.New("llm: transport error")

// RateLimited wraps a Provider with a token-bucket limiter so a single
// misbehaving agent cannot starve a shared model quota, grounded on the
// teacher's golang.org/x/time/rate usage ahead of provider calls.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p with a limiter allowing rps requests/sec and a
// burst of burst.
func NewRateLimited(p Provider, rps float64, burst int) *RateLimited {
	return &RateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Complete(ctx, req)
}

// ToolSpecsFrom converts a tool registry's active tool set into Provider
// ToolSpecs. A tool's compiled *jsonschema.Schema is a validator, not a
// serializable document, so the original JSON is recovered through
// tools.RawSchemaProvider (implemented by every built-in and by mcp.Stub
// once its schema has loaded) instead of re-derived from the validator.
func ToolSpecsFrom(active map[string]tools.Tool) []ToolSpec {
	out := make([]ToolSpec, 0, len(active))
	for name, t := range active {
		spec := ToolSpec{Name: name, Description: t.Description()}
		if rp, ok := t.(tools.RawSchemaProvider); ok {
			if raw := rp.RawSchema(); len(raw) > 0 {
				var doc any
				if err := json.Unmarshal(raw, &doc); err == nil {
					spec.Schema = doc
				}
			}
		}
		out = append(out, spec)
	}
	return out
}

// PriceTable maps a model id to its per-million-token input/output prices in
// USD, used to report a running cost alongside token counts (SPEC_FULL
// SUPPLEMENTED FEATURES). An unknown model id prices as zero and the caller
// should emit eventlog.TypeModelLookupWarning.
type PriceTable map[string]ModelPrice

// ModelPrice is the per-million-token price for one model.
type ModelPrice struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the USD cost of usage against the table's price for model,
// and whether the model was found.
func (pt PriceTable) Cost(modelID string, usage model.TokenUsage) (float64, bool) {
	p, ok := pt[modelID]
	if !ok {
		return 0, false
	}
	cost := float64(usage.InputTokens)/1_000_000*p.InputPerMTok +
		float64(usage.OutputTokens)/1_000_000*p.OutputPerMTok
	return cost, true
}

// DefaultPriceTable seeds prices for the models the bundled adapters target.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"claude-sonnet-4-5":           {InputPerMTok: 3.00, OutputPerMTok: 15.00},
		"claude-opus-4-1":             {InputPerMTok: 15.00, OutputPerMTok: 75.00},
		"gpt-4.1":                     {InputPerMTok: 2.00, OutputPerMTok: 8.00},
		"anthropic.claude-3-5-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	}
}

// TimeoutRetrying wraps a Provider so a single per-call deadline is enforced
// and a timeout is retried exactly once before surfacing to the engine.
type TimeoutRetrying struct {
	Provider
	timeout time.Duration
}

// NewTimeoutRetrying wraps p with a per-call deadline of timeout.
func NewTimeoutRetrying(p Provider, timeout time.Duration) *TimeoutRetrying {
	return &TimeoutRetrying{Provider: p, timeout: timeout}
}

func (t *TimeoutRetrying) Complete(ctx context.Context, req Request) (*Response, error) {
	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	resp, err := t.Provider.Complete(cctx, req)
	cancel()
	if err == nil || cctx.Err() != context.DeadlineExceeded {
		return resp, err
	}
	cctx2, cancel2 := context.WithTimeout(ctx, t.timeout)
	defer cancel2()
	return t.Provider.Complete(cctx2, req)
}
