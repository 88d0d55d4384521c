// Package prompt builds the three LLM prompts: planner,
// repair, and interpretation. Each is a text/template rendered from a
// typed context struct and tagged with a correlation id for logging.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/mcpagent/agentrt/pkg/types"
)

const jsonOnlyDirective = `Output only JSON. Do not include the key "description" inside "params".`

var plannerTemplate = template.Must(template.New("planner").Parse(strings.TrimSpace(`
You are the planning component of an agent runtime. Given a user request, recent
conversation context, and the available tools, decide what to do.

# User request
{{.UserRequest}}

# Recent conversation
{{range .Conversation}}{{.Role}}: {{.Text}}
{{end}}
# Available tools
{{range .Tools}}{{.Server}}.{{.Name}}({{.ParamSummary}}) — {{.Description}}
{{end}}
{{if .CustomInstructions}}# Additional instructions
{{.CustomInstructions}}

{{end}}# Output contract
Respond with a single JSON document: {"tasks": [ {"tool": ..., "params": {...}, "description": "..."}, ... ]}.
If no tool is needed (a greeting, thanks, or a direct answer), respond with
{"tasks": [], "response": "..."}.
If information is missing to proceed, respond with exactly one task using
tool "CLARIFICATION" and params.question set to the question to ask.

`+jsonOnlyDirective)))

var repairTemplate = template.Must(template.New("repair").Parse(strings.TrimSpace(`
A task failed during execution. Propose a replacement, or abort.

# Failing task
tool: {{.Task.Tool}}
params: {{.ParamsJSON}}
description: {{.Task.Description}}

# Error
{{.Error.Kind}}: {{.Error.Message}}

# Recent results
{{range .RecentResults}}- {{.TaskID}} ({{.Tool}}): {{.Summary}}
{{end}}
# Output contract
Respond with a single JSON document describing a replacement task:
{"tool": ..., "params": {...}, "description": "..."}.
If the task cannot be repaired, respond with {"abort": true, "reason": "..."}.

`+jsonOnlyDirective)))

var interpretationTemplate = template.Must(template.New("interpretation").Parse(strings.TrimSpace(`
Summarize the outcome of the user's request in one short, natural-language
sentence suitable to show directly to the user. Do not mention tool names,
task ids, or JSON.

# Original request
{{.UserRequest}}

# Final result(s)
{{range .Results}}- {{.Summary}}
{{end}}`)))

// ToolSummary is the tool-catalog entry rendered into the planner
// prompt ("server.tool(param: type[, required]) — description").
type ToolSummary struct {
	Server      string
	Name        string
	Description string
	ParamSummary string
}

// NewToolSummary renders a ToolDescriptor's params as
// "name: type[, required], ...".
func NewToolSummary(d types.ToolDescriptor) ToolSummary {
	names := make([]string, 0, len(d.Params))
	for name := range d.Params {
		names = append(names, name)
	}
	// Deterministic order keeps the rendered prompt text reproducible
	// across runs with the same catalog.
	sortStrings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		spec := d.Params[name]
		entry := fmt.Sprintf("%s: %s", name, spec.Type)
		if spec.Required {
			entry += ", required"
		}
		parts = append(parts, entry)
	}

	return ToolSummary{
		Server:       d.Server,
		Name:         d.Name,
		Description:  d.Description,
		ParamSummary: strings.Join(parts, ", "),
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// PlannerContext is the data bound into plannerTemplate.
type PlannerContext struct {
	UserRequest        string
	Conversation       []types.ConversationEntry
	Tools              []ToolSummary
	CustomInstructions string
}

// ResultSummary is one prior task's outcome, fed into the repair and
// interpretation prompts.
type ResultSummary struct {
	TaskID  string
	Tool    string
	Summary string
}

// RepairContext is the data bound into repairTemplate.
type RepairContext struct {
	Task          types.Task
	ParamsJSON    string
	Error         types.TaskError
	RecentResults []ResultSummary
}

// InterpretationContext is the data bound into interpretationTemplate.
type InterpretationContext struct {
	UserRequest string
	Results     []ResultSummary
}

// Rendered is a prompt ready to send to the LLM client, tagged with a
// fresh random correlation id; this package does not log it.
type Rendered struct {
	CorrelationID string
	Text          string
}

// Planner renders the planning prompt.
func Planner(ctx PlannerContext) (Rendered, error) {
	return render(plannerTemplate, ctx)
}

// Repair renders the repair prompt.
func Repair(ctx RepairContext) (Rendered, error) {
	return render(repairTemplate, ctx)
}

// Interpretation renders the interpretation prompt.
func Interpretation(ctx InterpretationContext) (Rendered, error) {
	return render(interpretationTemplate, ctx)
}

func render(tmpl *template.Template, data any) (Rendered, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return Rendered{}, fmt.Errorf("prompt: render %s: %w", tmpl.Name(), err)
	}
	return Rendered{CorrelationID: uuid.NewString(), Text: buf.String()}, nil
}
