package connmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/mcpagent/agentrt/internal/safetext"
	"github.com/mcpagent/agentrt/pkg/types"
)

// server is one spawned tool-server process.
type server struct {
	name    string
	cfg     ServerConfig
	timeout time.Duration

	sdkClient *sdkmcp.Client
	session   *sdkmcp.ClientSession

	status Status
	lastErr string
	tools   []types.ToolDescriptor
}

// Manager owns every configured tool server for one session.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*server
	log     zerolog.Logger
}

// New creates an empty Manager. Servers are added with Connect.
func New(log zerolog.Logger) *Manager {
	return &Manager{
		servers: make(map[string]*server),
		log:     log.With().Str("component", "connmgr").Logger(),
	}
}

// Connect spawns cfg's process, performs the MCP handshake, and lists
// its tools.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) ([]types.ToolDescriptor, error) {
	m.mu.Lock()
	if _, exists := m.servers[cfg.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("connmgr: server %q already connected", cfg.Name)
	}
	srv := &server{name: cfg.Name, cfg: cfg, timeout: DefaultCallTimeout, status: StatusConnecting}
	m.servers[cfg.Name] = srv
	m.mu.Unlock()

	if err := m.connect(ctx, srv); err != nil {
		m.mu.Lock()
		srv.status = StatusFailed
		srv.lastErr = err.Error()
		m.mu.Unlock()
		return nil, err
	}

	m.log.Info().Str("server", cfg.Name).Int("tools", len(srv.tools)).Msg("tool server connected")
	return srv.tools, nil
}

func (m *Manager) connect(ctx context.Context, srv *server) error {
	if srv.cfg.Command == "" {
		return fmt.Errorf("connmgr: server %q has no command", srv.name)
	}

	cmd := exec.Command(srv.cfg.Command, srv.cfg.Args...)
	cmd.Dir = srv.cfg.Cwd
	cmd.Env = os.Environ()
	for k, v := range srv.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "agentrt",
		Version: "0.1.0",
	}, nil)

	transport := &sdkmcp.CommandTransport{Command: cmd}

	connCtx, cancel := context.WithTimeout(ctx, srv.timeout)
	defer cancel()

	session, err := client.Connect(connCtx, transport, nil)
	if err != nil {
		return fmt.Errorf("connmgr: handshake with %q: %w", srv.name, err)
	}

	result, err := session.ListTools(connCtx, nil)
	if err != nil {
		session.Close()
		return fmt.Errorf("connmgr: list_tools on %q: %w", srv.name, err)
	}

	tools := make([]types.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		var schema json.RawMessage
		if t.InputSchema != nil {
			schema, _ = json.Marshal(t.InputSchema)
		}
		tools = append(tools, types.ToolDescriptor{
			Server:      srv.name,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
			Params:      paramSpecsFromSchema(schema),
		})
	}

	m.mu.Lock()
	srv.sdkClient = client
	srv.session = session
	srv.tools = tools
	srv.status = StatusConnected
	srv.lastErr = ""
	m.mu.Unlock()

	return nil
}

// jsonSchemaObject is the subset of a JSON Schema object this package
// reads to derive ParamSpec: property types/descriptions and the
// required-key list.
type jsonSchemaObject struct {
	Properties map[string]struct {
		Type        any    `json:"type"`
		Description string `json:"description"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// paramSpecsFromSchema parses a tool's inputSchema into a ParamSpec
// map so the catalog and task manager can filter/validate params
// without round-tripping to the tool server. A missing or
// unparseable schema yields nil, which callers treat as "no schema
// known" rather than an error.
func paramSpecsFromSchema(raw json.RawMessage) map[string]types.ParamSpec {
	if len(raw) == 0 {
		return nil
	}

	var schema jsonSchemaObject
	if err := json.Unmarshal(raw, &schema); err != nil || len(schema.Properties) == 0 {
		return nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	specs := make(map[string]types.ParamSpec, len(schema.Properties))
	for name, prop := range schema.Properties {
		specs[name] = types.ParamSpec{
			Type:        schemaTypeString(prop.Type),
			Required:    required[name],
			Description: prop.Description,
		}
	}
	return specs
}

// schemaTypeString renders a JSON Schema "type" keyword as a single
// string, joining a type-array (e.g. ["string","null"]) with "|".
func schemaTypeString(t any) string {
	switch v := t.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "|")
	default:
		return ""
	}
}

// Result is what CallTool returns: either a value, or a TaskError whose
// Kind is one of the error kinds this package can produce.
type Result struct {
	Value any
	Err   *types.TaskError
}

// CallTool resolves toolName on serverName, sanitizes params via
// internal/safetext, and dispatches a tools/call request bounded by the
// caller's deadline, or by the server's per-call timeout when ctx has
// none. On transport_closed it attempts exactly
// one reconnect before propagating the error.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, params map[string]any) Result {
	m.mu.RLock()
	srv, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return Result{Err: &types.TaskError{Kind: types.ErrUnknownTool, Message: fmt.Sprintf("no such server: %s", serverName)}}
	}

	cleanParams, err := sanitizeParams(params)
	if err != nil {
		return Result{Err: &types.TaskError{Kind: types.ErrInvalidParams, Message: err.Error()}}
	}

	value, err := m.invoke(ctx, srv, toolName, cleanParams)
	if err == nil {
		return Result{Value: value}
	}

	if !isTransportErr(err) {
		return Result{Err: classifyErr(toolName, err)}
	}

	m.log.Warn().Str("server", serverName).Err(err).Msg("transport closed, attempting reconnect")
	m.mu.Lock()
	srv.status = StatusDisconnected
	m.mu.Unlock()

	if rerr := m.connect(ctx, srv); rerr != nil {
		m.mu.Lock()
		srv.status = StatusFailed
		srv.lastErr = rerr.Error()
		m.mu.Unlock()
		return Result{Err: &types.TaskError{Kind: types.ErrTransportClosed, Message: rerr.Error()}}
	}

	value, err = m.invoke(ctx, srv, toolName, cleanParams)
	if err != nil {
		return Result{Err: &types.TaskError{Kind: types.ErrTransportClosed, Message: err.Error()}}
	}
	return Result{Value: value}
}

func (m *Manager) invoke(ctx context.Context, srv *server, toolName string, params map[string]any) (string, error) {
	m.mu.RLock()
	session := srv.session
	timeout := srv.timeout
	m.mu.RUnlock()

	if session == nil {
		return "", fmt.Errorf("not connected")
	}

	// Only impose srv.timeout as a default when the caller hasn't
	// already set a deadline; otherwise context.WithTimeout would
	// always shorten a caller deadline longer than srv.timeout (e.g.
	// the engine's doubled-timeout retry) back down to srv.timeout.
	callCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	callParams := &sdkmcp.CallToolParams{Name: toolName, Arguments: params}
	result, err := session.CallTool(callCtx, callParams)
	if err != nil {
		return "", err
	}

	if result.IsError {
		for _, content := range result.Content {
			if text, ok := content.(*sdkmcp.TextContent); ok {
				return "", fmt.Errorf("tool error: %s", text.Text)
			}
		}
		return "", fmt.Errorf("tool execution failed")
	}

	var out strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}

func sanitizeParams(params map[string]any) (map[string]any, error) {
	raw, err := safetext.SafeJSON(params)
	if err != nil {
		return nil, err
	}
	var clean map[string]any
	if err := json.Unmarshal(raw, &clean); err != nil {
		return nil, err
	}
	return clean, nil
}

func isTransportErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "closed") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset")
}

func classifyErr(toolName string, err error) *types.TaskError {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "tool error:"):
		return &types.TaskError{Kind: types.ErrToolError, Message: strings.TrimPrefix(msg, "tool error: ")}
	case strings.Contains(msg, "context deadline exceeded"):
		return &types.TaskError{Kind: types.ErrTimeout, Message: fmt.Sprintf("%s timed out", toolName)}
	case strings.Contains(msg, "unmarshal") || strings.Contains(msg, "decode"):
		return &types.TaskError{Kind: types.ErrDecodeError, Message: msg}
	default:
		return &types.TaskError{Kind: types.ErrToolError, Message: msg}
	}
}

// Status reports the current state of every configured server.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for name, srv := range m.servers {
		s := ServerStatus{Name: name, Status: srv.status, ToolCount: len(srv.tools)}
		if srv.lastErr != "" {
			s.Error = &srv.lastErr
		}
		out = append(out, s)
	}
	return out
}

// GetServer returns the status of one configured server.
func (m *Manager) GetServer(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	srv, ok := m.servers[name]
	if !ok {
		return ServerStatus{}, fmt.Errorf("connmgr: server not found: %s", name)
	}
	s := ServerStatus{Name: name, Status: srv.status, ToolCount: len(srv.tools)}
	if srv.lastErr != "" {
		s.Error = &srv.lastErr
	}
	return s, nil
}

// Close sends termination to every server, waiting up to CloseGrace per
// process before the session is force-closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, srv := range m.servers {
		if srv.session == nil {
			continue
		}
		done := make(chan struct{})
		go func() {
			srv.session.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(CloseGrace):
			m.log.Warn().Str("server", name).Msg("close grace period elapsed, abandoning session")
		}
	}
	m.servers = make(map[string]*server)
	return nil
}
