package catalog

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpagent/agentrt/pkg/types"
)

func sumDescriptor() types.ToolDescriptor {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"numbers": {"type": "array", "items": {"type": "number"}}
		},
		"required": ["numbers"]
	}`)
	return types.ToolDescriptor{
		Server:      "calc",
		Name:        "calc_sum",
		Description: "sum numbers",
		InputSchema: schema,
		Params: map[string]types.ParamSpec{
			"numbers": {Type: "array", Required: true},
		},
	}
}

func TestCatalog_RegisterAndLookup(t *testing.T) {
	c := New(zerolog.Nop())
	c.Register([]types.ToolDescriptor{sumDescriptor()})

	d, ok := c.Lookup("calc_sum")
	require.True(t, ok)
	assert.Equal(t, "calc", d.Server)
}

func TestCatalog_CollisionFirstWins(t *testing.T) {
	c := New(zerolog.Nop())
	first := sumDescriptor()
	second := sumDescriptor()
	second.Server = "other_calc"

	c.Register([]types.ToolDescriptor{first})
	c.Register([]types.ToolDescriptor{second})

	d, ok := c.Lookup("calc_sum")
	require.True(t, ok)
	assert.Equal(t, "calc", d.Server, "first-registered server should win on collision")
}

func TestCatalog_ValidateParamsDropsUndeclaredKeys(t *testing.T) {
	c := New(zerolog.Nop())
	c.Register([]types.ToolDescriptor{sumDescriptor()})

	cleaned, taskErr := c.ValidateParams("calc_sum", map[string]any{
		"numbers":     []any{1.0, 2.0, 3.0},
		"description": "should be dropped",
		"bogus":       "also dropped",
	})
	require.Nil(t, taskErr)
	assert.Contains(t, cleaned, "numbers")
	assert.NotContains(t, cleaned, "description")
	assert.NotContains(t, cleaned, "bogus")
}

func TestCatalog_ValidateParamsMissingRequired(t *testing.T) {
	c := New(zerolog.Nop())
	c.Register([]types.ToolDescriptor{sumDescriptor()})

	_, taskErr := c.ValidateParams("calc_sum", map[string]any{})
	require.NotNil(t, taskErr)
	assert.Equal(t, types.ErrInvalidParams, taskErr.Kind)
}

func TestCatalog_ValidateParamsUnknownTool(t *testing.T) {
	c := New(zerolog.Nop())
	_, taskErr := c.ValidateParams("nonexistent_tool", map[string]any{})
	require.NotNil(t, taskErr)
	assert.Equal(t, types.ErrUnknownTool, taskErr.Kind)
}

func TestCatalog_ValidateParamsClarificationBypassesSchema(t *testing.T) {
	c := New(zerolog.Nop())
	cleaned, taskErr := c.ValidateParams(types.ClarificationTool, map[string]any{"question": "which file?"})
	require.Nil(t, taskErr)
	assert.Equal(t, "which file?", cleaned["question"])
}

func TestCatalog_ParamSpecs(t *testing.T) {
	c := New(zerolog.Nop())
	c.Register([]types.ToolDescriptor{sumDescriptor()})

	specs, ok := c.ParamSpecs("calc_sum")
	require.True(t, ok)
	assert.Equal(t, types.ParamSpec{Type: "array", Required: true}, specs["numbers"])

	_, ok = c.ParamSpecs("nonexistent_tool")
	assert.False(t, ok)
}

func TestCatalog_All(t *testing.T) {
	c := New(zerolog.Nop())
	c.Register([]types.ToolDescriptor{sumDescriptor()})
	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, "calc_sum", all[0].Name)
}
