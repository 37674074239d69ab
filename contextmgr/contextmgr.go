// Package contextmgr implements the Context Manager (C8): cumulative token
// tracking, once-per-conversation threshold firing at 60/80/90% usage, and
// progressive tool-result compression when a 60% handler takes no action.
package contextmgr

import (
	"context"
	"sort"

	"github.com/swarmkit/swarmkit/eventlog"
	"github.com/swarmkit/swarmkit/model"
)

// compressionSentinel marks a tool message whose content was truncated by
// progressive compression.
const compressionSentinel = "\n… [truncated for context management]"

// defaultKeepRecent is the number of most-recent tool messages progressive
// compression leaves untouched.
const defaultKeepRecent = 10

// defaultTruncateTo bounds a compressed tool message's surviving content
// length, in runes, before the sentinel is appended.
const defaultTruncateTo = 500

// Handler reacts to a fired threshold through the rich Context wrapper.
type Handler func(*Context)

// Manager tracks one agent's cumulative token usage against its model's
// context window and fires threshold handlers at most once each (spec §4.8).
type Manager struct {
	bus          *eventlog.Bus
	agentName    string
	contextLimit int

	tokensUsed         int
	fired              map[int]bool
	compressionApplied bool
	handlers           map[int][]Handler

	// estimator drives a provisional usage percentage ahead of a response's
	// authoritative usage landing (SPEC_FULL C8). Optional; nil when the
	// model's encoding could not be resolved, in which case provisional
	// checks are a no-op and thresholds still fire off AddUsage alone.
	estimator *Estimator
}

// NewManager returns a Manager for agentName with the given model context
// window size in tokens.
func NewManager(bus *eventlog.Bus, agentName string, contextLimit int) *Manager {
	return &Manager{
		bus:          bus,
		agentName:    agentName,
		contextLimit: contextLimit,
		fired:        make(map[int]bool),
		handlers:     make(map[int][]Handler),
	}
}

// RegisterHandler installs h to run when usage first crosses threshold
// (one of 60, 80, 90).
func (m *Manager) RegisterHandler(threshold int, h Handler) {
	m.handlers[threshold] = append(m.handlers[threshold], h)
}

// SetEstimator installs a provisional token counter. A Manager with no
// Estimator still fires thresholds correctly off AddUsage's authoritative
// counts; CheckProvisional is simply a no-op in that case.
func (m *Manager) SetEstimator(e *Estimator) {
	m.estimator = e
}

// AddUsage accumulates tokens from an LLM response's reported usage.
func (m *Manager) AddUsage(u model.TokenUsage) {
	m.tokensUsed += u.Total()
}

// UsagePercentage returns cumulative usage as a percentage of the context
// limit. Returns 0 when the limit is not configured.
func (m *Manager) UsagePercentage() float64 {
	if m.contextLimit <= 0 {
		return 0
	}
	return float64(m.tokensUsed) / float64(m.contextLimit) * 100
}

// Check fires any newly-crossed thresholds against conv, applying automatic
// compression for 60% when no handler marks compression_applied. conv is
// mutated in place by handlers and by automatic compression.
func (m *Manager) Check(ctx context.Context, conv *model.Conversation) {
	m.checkThresholds(ctx, conv, m.UsagePercentage())
}

// CheckProvisional fires thresholds off a pre-request estimate of conv's
// token count (SPEC_FULL C8: "provisional counts before a response returns"),
// so a handler can react to a threshold crossing before the LLM call that
// would push usage over it even lands. It never touches tokensUsed — Check
// still advances the authoritative count once the response's reported usage
// is added via AddUsage. No-op when no Estimator is installed.
func (m *Manager) CheckProvisional(ctx context.Context, conv *model.Conversation) {
	if m.estimator == nil || m.contextLimit <= 0 {
		return
	}
	// conv already holds the full history about to be sent as this turn's
	// input, so the estimate stands on its own rather than adding to
	// tokensUsed (which is the sum of prior turns' reported usage, already
	// reflected in conv's own message count).
	estimated := m.estimator.CountConversation(conv)
	pct := float64(estimated) / float64(m.contextLimit) * 100
	m.checkThresholds(ctx, conv, pct)
}

// checkThresholds runs the spec §4.8 threshold-crossing sequence against a
// already-computed usage percentage, shared by Check's authoritative count
// and CheckProvisional's pre-request estimate.
func (m *Manager) checkThresholds(ctx context.Context, conv *model.Conversation, pct float64) {
	thresholds := []int{60, 80, 90}
	sort.Ints(thresholds)
	for _, th := range thresholds {
		if pct < float64(th) || m.fired[th] {
			continue
		}
		m.fired[th] = true
		m.bus.Emit(ctx, eventlog.Event{
			Type:  eventlog.TypeContextThresholdHit,
			Agent: m.agentName,
			Payload: map[string]any{
				"agent":                    m.agentName,
				"threshold":                th,
				"current_usage_percentage": pct,
			},
		})

		hctx := &Context{mgr: m, ctx: ctx, conv: conv, threshold: th, usagePercentage: pct}
		for _, h := range m.handlers[th] {
			h(hctx)
		}

		if th == 60 && !m.compressionApplied {
			m.autoCompress(ctx, conv)
		}
	}
}

func (m *Manager) autoCompress(ctx context.Context, conv *model.Conversation) {
	tokensBefore := m.tokensUsed
	compressed := compressToolResults(conv, defaultKeepRecent, defaultTruncateTo)
	m.compressionApplied = true

	m.bus.Emit(ctx, eventlog.Event{
		Type:  eventlog.TypeContextCompression,
		Agent: m.agentName,
		Payload: map[string]any{
			"messages_compressed": compressed,
			"tokens_before":       tokensBefore,
			"strategy":            "progressive_tool_result_truncation",
			"keep_recent":         defaultKeepRecent,
		},
	})
	m.bus.Emit(ctx, eventlog.Event{
		Type:  eventlog.TypeContextLimitWarning,
		Agent: m.agentName,
		Payload: map[string]any{
			"threshold":            "60%",
			"compression_triggered": true,
		},
	})
}

// compressToolResults replaces the content of tool messages older than the
// most recent keepRecent whose content exceeds truncateTo runes with a
// truncated copy plus the sentinel marker, preserving ToolCallID so the
// tool-DAG invariant holds. Returns the number of messages compressed.
func compressToolResults(conv *model.Conversation, keepRecent, truncateTo int) int {
	var toolIdx []int
	for i, msg := range conv.Messages {
		if msg.Role == model.RoleTool {
			toolIdx = append(toolIdx, i)
		}
	}
	cutoff := len(toolIdx) - keepRecent
	if cutoff <= 0 {
		return 0
	}
	compressed := 0
	for _, idx := range toolIdx[:cutoff] {
		msg := conv.Messages[idx]
		if len([]rune(msg.Text)) <= truncateTo {
			continue
		}
		runes := []rune(msg.Text)
		msg.Text = string(runes[:truncateTo]) + compressionSentinel
		compressed++
	}
	return compressed
}

// pruneOldMessages keeps a leading system message (if any) plus the most
// recent keepRecent messages, per spec §4.8's prune_old_messages contract. A
// raw trailing-count cut can land inside a tool-call pair, retaining a tool
// message whose assistant tool-call got dropped; once sliced, any leading
// orphaned tool messages are trimmed from the kept tail so the result never
// violates the tool-DAG invariant (spec §4.8 invariant (b), §8 property 2).
// This can keep fewer than keepRecent messages but never more.
func pruneOldMessages(conv *model.Conversation, keepRecent int) {
	msgs := conv.Messages
	if len(msgs) == 0 {
		return
	}
	var preserved []*model.Message
	rest := msgs
	if msgs[0].Role == model.RoleSystem {
		preserved = []*model.Message{msgs[0]}
		rest = msgs[1:]
	}
	if len(rest) > keepRecent {
		rest = rest[len(rest)-keepRecent:]
		for len(rest) > 0 && rest[0].Role == model.RoleTool {
			rest = rest[1:]
		}
	}
	conv.Messages = append(preserved, rest...)
}

// Export returns the fired-threshold and compression-applied state for
// snapshotting (spec §4.8 "the set of fired thresholds is part of Agent
// Context and is snapshotted").
func (m *Manager) Export() State {
	fired := make(map[int]bool, len(m.fired))
	for k, v := range m.fired {
		fired[k] = v
	}
	return State{
		TokensUsed:         m.tokensUsed,
		Fired:              fired,
		CompressionApplied: m.compressionApplied,
	}
}

// Restore installs a previously exported State.
func (m *Manager) Restore(s State) {
	m.tokensUsed = s.TokensUsed
	m.fired = make(map[int]bool, len(s.Fired))
	for k, v := range s.Fired {
		m.fired[k] = v
	}
	m.compressionApplied = s.CompressionApplied
}

// State is the serializable snapshot of a Manager's threshold bookkeeping.
type State struct {
	TokensUsed         int
	Fired              map[int]bool
	CompressionApplied bool
}

// Context is the handler-facing API spec §4.8 calls the "rich Context
// wrapper", exposing usage figures and the mutation primitives a
// context_warning handler can use to manage its own conversation.
type Context struct {
	mgr             *Manager
	ctx             context.Context
	conv            *model.Conversation
	threshold       int
	usagePercentage float64
}

func (c *Context) UsagePercentage() float64 { return c.usagePercentage }
func (c *Context) Threshold() int           { return c.threshold }
func (c *Context) TokensUsed() int          { return c.mgr.tokensUsed }
func (c *Context) TokensRemaining() int {
	r := c.mgr.contextLimit - c.mgr.tokensUsed
	if r < 0 {
		return 0
	}
	return r
}
func (c *Context) ContextLimit() int    { return c.mgr.contextLimit }
func (c *Context) AgentName() string    { return c.mgr.agentName }
func (c *Context) Messages() []*model.Message { return c.conv.Messages }

// ReplaceMessages overwrites the conversation's message list wholesale.
func (c *Context) ReplaceMessages(msgs []*model.Message) { c.conv.Messages = msgs }

// CompressToolResults applies the same progressive truncation autoCompress
// uses, letting a custom handler invoke it with its own parameters.
func (c *Context) CompressToolResults(keepRecent, truncateTo int) int {
	return compressToolResults(c.conv, keepRecent, truncateTo)
}

// PruneOldMessages keeps a leading system message plus the most recent
// keepRecent messages.
func (c *Context) PruneOldMessages(keepRecent int) { pruneOldMessages(c.conv, keepRecent) }

// TransformMessages replaces the message list with the result of fn.
func (c *Context) TransformMessages(fn func([]*model.Message) []*model.Message) {
	c.conv.Messages = fn(c.conv.Messages)
}

// MarkCompressionApplied tells Manager.Check that this handler already
// managed the conversation, suppressing automatic 60% compression.
func (c *Context) MarkCompressionApplied() { c.mgr.compressionApplied = true }

// LogAction emits a context_management_action event describing a handler's
// custom action, e.g. a summarization strategy instead of truncation.
func (c *Context) LogAction(name string, details map[string]any) {
	payload := map[string]any{"action": name}
	for k, v := range details {
		payload[k] = v
	}
	c.mgr.bus.Emit(c.ctx, eventlog.Event{
		Type:    eventlog.TypeContextManagementAction,
		Agent:   c.mgr.agentName,
		Payload: payload,
	})
}
