package integration

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/atlas-assistant/cortex/internal/action"
	"github.com/atlas-assistant/cortex/pkg/types"
)

const (
	// windowSize is the per-tool rolling latency window capacity.
	windowSize = 100

	// unhealthyErrorRate withholds a tool from the model above this error
	// share of its window.
	unhealthyErrorRate = 0.3

	// defaultToolTimeout bounds a tool call with no declared maximum.
	defaultToolTimeout = 10 * time.Second

	// actionMaxP50Ms: tools slower than this never back an L2 direct
	// action, whatever their annotation says. Direct actions answer
	// without generation and must feel immediate.
	actionMaxP50Ms = 800
)

// toolEntry is the host's record of one registered tool.
type toolEntry struct {
	def        types.ToolDefinition
	serverName string
	action     *actionAnnotation
	window     *latencyWindow
	p50Ms      int64 // measured; falls back to declared while empty
	unhealthy  bool

	// builtinFn is set for in-process tools.
	builtinFn func(ctx context.Context, args string) (string, error)
}

func (e toolEntry) effectiveP50() int64 {
	if e.window.Count() > 0 {
		return e.p50Ms
	}
	return int64(e.def.EstimatedDurationMs)
}

// Host manages integration server connections and the tool catalogue.
// Safe for concurrent use.
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry
	servers map[string]*mcpsdk.ClientSession

	client *mcpsdk.Client
	logger *slog.Logger
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host logger.
func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *Host) { h.logger = logger }
}

// NewHost returns a ready-to-use host with no connections.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]*mcpsdk.ClientSession),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "cortex-integrations", Version: "1.0.0"}, nil),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterServer connects to the server described by cfg and imports its
// tool catalogue. Re-registering a name closes and replaces the old
// connection and its tools.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("integration: server config must have a name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("integration: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		fields := strings.Fields(cfg.Command)
		if len(fields) == 0 {
			return fmt.Errorf("integration: stdio server %q requires a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("integration: streamable-http server %q requires a URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("integration: connect to %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("integration: list tools for %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}
	h.servers[cfg.Name] = session

	for _, t := range discovered {
		h.tools[t.Name] = buildEntry(t, cfg.Name)
	}
	h.logger.Info("integration server registered",
		"server", cfg.Name, "tools", len(discovered))
	return nil
}

// buildEntry converts a discovered SDK tool into the host's record.
func buildEntry(t mcpsdk.Tool, serverName string) toolEntry {
	schema := schemaToMap(t.InputSchema)
	return toolEntry{
		def: types.ToolDefinition{
			Name:                t.Name,
			Description:         t.Description,
			Parameters:          schema,
			EstimatedDurationMs: int(extractInt64(schema, "x_estimated_duration_ms")),
			MaxDurationMs:       int(extractInt64(schema, "x_max_duration_ms")),
		},
		serverName: serverName,
		action:     extractActionAnnotation(schema),
		window:     newLatencyWindow(windowSize),
	}
}

// extractActionAnnotation reads the x_action block of a tool schema.
func extractActionAnnotation(schema map[string]any) *actionAnnotation {
	raw, ok := schema["x_action"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var ann actionAnnotation
	if err := json.Unmarshal(data, &ann); err != nil || len(ann.Patterns) == 0 {
		return nil
	}
	return &ann
}

func extractInt64(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

// schemaToMap normalises any schema value to a plain map.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// BuiltinTool is an in-process tool. Builtins skip protocol overhead but
// share budget filtering and health tracking with external tools.
type BuiltinTool struct {
	Definition types.ToolDefinition

	// Handler receives the JSON-encoded arguments object.
	Handler func(ctx context.Context, args string) (string, error)

	// Action optionally volunteers the builtin as an L2 direct action.
	Action *ActionBinding
}

// ActionBinding declares the L2 trigger surface for a tool.
type ActionBinding struct {
	Patterns   []string
	Template   string
	Domain     string
	Confidence float64
}

const builtinServer = "__builtin__"

// RegisterBuiltin adds an in-process tool, replacing any tool of the same
// name.
func (h *Host) RegisterBuiltin(tool BuiltinTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("integration: builtin tool must have a name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("integration: builtin tool %q must have a handler", tool.Definition.Name)
	}
	entry := toolEntry{
		def:        tool.Definition,
		serverName: builtinServer,
		window:     newLatencyWindow(windowSize),
		builtinFn:  tool.Handler,
	}
	if tool.Action != nil {
		entry.action = &actionAnnotation{
			Patterns:   tool.Action.Patterns,
			Template:   tool.Action.Template,
			Domain:     tool.Action.Domain,
			Confidence: tool.Action.Confidence,
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = entry
	return nil
}

// ExecuteTool runs the named tool. A non-nil ToolResult with IsError set
// reports an application-level failure; a Go error means the tool could
// not be reached.
func (h *Host) ExecuteTool(ctx context.Context, name, args string) (*ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("integration: tool %q not found", name)
	}

	timeout := defaultToolTimeout
	if entry.def.MaxDurationMs > 0 {
		timeout = time.Duration(entry.def.MaxDurationMs) * time.Millisecond
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var result *ToolResult
	var execErr error
	if entry.builtinFn != nil {
		result, execErr = h.executeBuiltin(cctx, entry, args)
	} else {
		result, execErr = h.executeRemote(cctx, entry, args)
	}
	elapsed := time.Since(start)

	isErr := execErr != nil || (result != nil && result.IsError)
	h.record(name, elapsed.Milliseconds(), isErr)

	if execErr != nil {
		return nil, execErr
	}
	result.Duration = elapsed
	return result, nil
}

func (h *Host) executeBuiltin(ctx context.Context, entry toolEntry, args string) (*ToolResult, error) {
	out, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &ToolResult{Content: out}, nil
}

func (h *Host) executeRemote(ctx context.Context, entry toolEntry, args string) (*ToolResult, error) {
	h.mu.RLock()
	session, ok := h.servers[entry.serverName]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("integration: server %q gone for tool %q", entry.serverName, entry.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("integration: invalid args for tool %q: %w", entry.def.Name, err)
		}
	}

	call, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("integration: tool %q: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range call.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &ToolResult{Content: sb.String(), IsError: call.IsError}, nil
}

// record folds one measurement into the tool's window and re-evaluates
// health.
func (h *Host) record(name string, latencyMs int64, isError bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.tools[name]
	if !ok {
		return
	}
	entry.window.Record(latencyMs, isError)
	entry.p50Ms = entry.window.P50()
	wasUnhealthy := entry.unhealthy
	entry.unhealthy = entry.window.ErrorRate() > unhealthyErrorRate
	if entry.unhealthy != wasUnhealthy {
		h.logger.Warn("integration tool health changed",
			"tool", name, "unhealthy", entry.unhealthy)
	}
	h.tools[name] = entry
}

// Tools returns the healthy tools whose effective median latency fits
// within maxP50 (0 = no limit), fastest first. These definitions go to
// the generation layer.
func (h *Host) Tools(maxP50 time.Duration) []types.ToolDefinition {
	h.mu.RLock()
	entries := make([]toolEntry, 0, len(h.tools))
	for _, e := range h.tools {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	limit := maxP50.Milliseconds()
	var kept []toolEntry
	for _, e := range entries {
		if e.unhealthy {
			continue
		}
		if limit > 0 && e.effectiveP50() > limit {
			continue
		}
		kept = append(kept, e)
	}
	slices.SortFunc(kept, func(a, b toolEntry) int {
		return cmp.Compare(a.effectiveP50(), b.effectiveP50())
	})

	defs := make([]types.ToolDefinition, len(kept))
	for i, e := range kept {
		defs[i] = e.def
	}
	return defs
}

// ContributeActions wires annotated tools into the L2 registry: each
// becomes a direct action whose handler calls the tool. Tools with a
// declared or measured median above the action latency cap are skipped.
// Returns the number of actions contributed.
func (h *Host) ContributeActions(registry *action.Registry) (int, error) {
	h.mu.RLock()
	var candidates []toolEntry
	for _, e := range h.tools {
		if e.action != nil && e.effectiveP50() <= actionMaxP50Ms {
			candidates = append(candidates, e)
		}
	}
	h.mu.RUnlock()

	existing := registry.Actions()
	contributed := 0
	for _, e := range candidates {
		patterns, err := action.CompilePatterns(e.action.Patterns)
		if err != nil {
			return contributed, fmt.Errorf("integration: tool %q action patterns: %w", e.def.Name, err)
		}
		confidence := e.action.Confidence
		if confidence == 0 {
			confidence = 0.7
		}
		template := e.action.Template
		if template == "" {
			template = "{result}"
		}
		name := e.def.Name
		existing = append(existing, &action.Action{
			ID:             e.serverName + "." + name,
			Patterns:       patterns,
			HandlerName:    name,
			Integration:    e.serverName,
			Domain:         e.action.Domain,
			Template:       template,
			ConfidenceBase: confidence,
		})
		registry.RegisterHandler(name, h.toolHandler(name))
		contributed++
	}
	registry.SetActions(existing)
	return contributed, nil
}

// toolHandler adapts a tool into an L2 action handler: captured pattern
// params become the tool's arguments object.
func (h *Host) toolHandler(name string) action.Handler {
	return func(ctx context.Context, params map[string]string) (string, error) {
		args := "{}"
		if len(params) > 0 {
			data, err := json.Marshal(params)
			if err != nil {
				return "", fmt.Errorf("integration: encode params for %q: %w", name, err)
			}
			args = string(data)
		}
		result, err := h.ExecuteTool(ctx, name, args)
		if err != nil {
			return "", err
		}
		if result.IsError {
			return "", fmt.Errorf("integration: tool %q reported: %s", name, result.Content)
		}
		return result.Content, nil
	}
}

// Close shuts down all server connections. The host must not be used
// afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for name, session := range h.servers {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("integration: close %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return firstErr
}
