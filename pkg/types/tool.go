package types

import "encoding/json"

// ParamSpec describes one declared parameter of a tool's input schema.
type ParamSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ToolDescriptor is the immutable record of one tool learned at
// handshake time: which server owns it, and its declared input schema.
type ToolDescriptor struct {
	Server      string               `json:"server"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	InputSchema json.RawMessage      `json:"inputSchema"`
	Params      map[string]ParamSpec `json:"params,omitempty"`
}
