// Package catalog aggregates every connected tool server's tool
// descriptors into a single tool_name -> (server, schema) lookup, and
// validates task params against the declared schema before dispatch.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mcpagent/agentrt/pkg/types"
)

// entry is one registered tool.
type entry struct {
	descriptor types.ToolDescriptor
	schema     *jsonschema.Schema
}

// Catalog is the aggregated tool registry.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]entry
	log     zerolog.Logger
}

// New creates an empty Catalog.
func New(log zerolog.Logger) *Catalog {
	return &Catalog{
		entries: make(map[string]entry),
		log:     log.With().Str("component", "catalog").Logger(),
	}
}

// Register adds one server's tools. On a tool-name collision the first
// registration wins and the later one is dropped with a warning, so the
// outcome stays deterministic by configuration order.
func (c *Catalog) Register(descriptors []types.ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range descriptors {
		if _, exists := c.entries[d.Name]; exists {
			c.log.Warn().Str("tool", d.Name).Str("server", d.Server).
				Msg("tool name collision, keeping first-registered server")
			continue
		}

		compiled, err := compileSchema(d.Name, d.InputSchema)
		if err != nil {
			c.log.Warn().Str("tool", d.Name).Err(err).Msg("failed to compile input schema, skipping local validation")
		}

		c.entries[d.Name] = entry{descriptor: d, schema: compiled}
	}
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name + ".schema.json")
}

// Lookup returns the server owning toolName and its descriptor.
func (c *Catalog) Lookup(toolName string) (types.ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[toolName]
	if !ok {
		return types.ToolDescriptor{}, false
	}
	return e.descriptor, true
}

// ParamSpecs returns toolName's declared parameter map, derived from
// its input schema's "properties"/"required" at registration time. The
// bool result is false for an unknown tool, matching task.Manager's
// knownParams contract.
func (c *Catalog) ParamSpecs(toolName string) (map[string]types.ParamSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[toolName]
	if !ok {
		return nil, false
	}
	return e.descriptor.Params, true
}

// All returns every registered descriptor, used to render the planner
// prompt's tool catalog section.
func (c *Catalog) All() []types.ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ToolDescriptor, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.descriptor)
	}
	return out
}

// ValidateParams drops params keys the schema doesn't declare and
// reports an invalid_params TaskError if a required key is missing,
// without a round trip to the tool server.
func (c *Catalog) ValidateParams(toolName string, params map[string]any) (map[string]any, *types.TaskError) {
	if toolName == types.ClarificationTool {
		return params, nil
	}

	c.mu.RLock()
	e, ok := c.entries[toolName]
	c.mu.RUnlock()
	if !ok {
		return nil, &types.TaskError{Kind: types.ErrUnknownTool, Message: fmt.Sprintf("unknown tool: %s", toolName)}
	}

	cleaned := dropUndeclaredKeys(params, e.descriptor.Params)

	if e.schema != nil {
		payload := toAny(cleaned)
		if err := e.schema.Validate(payload); err != nil {
			return nil, &types.TaskError{Kind: types.ErrInvalidParams, Message: err.Error()}
		}
	}

	for name, spec := range e.descriptor.Params {
		if !spec.Required {
			continue
		}
		if _, present := cleaned[name]; !present {
			return nil, &types.TaskError{
				Kind:    types.ErrInvalidParams,
				Message: fmt.Sprintf("%s: missing required parameter %q", toolName, name),
			}
		}
	}

	return cleaned, nil
}

func dropUndeclaredKeys(params map[string]any, declared map[string]types.ParamSpec) map[string]any {
	if declared == nil {
		return params
	}
	cleaned := make(map[string]any, len(params))
	for k, v := range params {
		if _, ok := declared[k]; ok {
			cleaned[k] = v
		}
	}
	return cleaned
}

func toAny(params map[string]any) any {
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return params
	}
	return decoded
}
