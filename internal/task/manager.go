// Package task implements the task manager: it turns the
// planner's JSON plan into typed Task objects, filters stray fields,
// injects dependency placeholders, and appends the result to the
// persistent store's pending queue.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mcpagent/agentrt/internal/store"
	"github.com/mcpagent/agentrt/internal/taskevents"
	"github.com/mcpagent/agentrt/pkg/types"
)

// PlannedTask is one element of the planner's "tasks" array, as
// received straight off the wire before filtering.
type PlannedTask struct {
	Tool        string                 `json:"tool"`
	Params      map[string]any         `json:"params"`
	Description string                 `json:"description"`
	DependsOn   []string               `json:"depends_on,omitempty"`
}

// Plan is the planner's full JSON output contract.
type Plan struct {
	Tasks    []PlannedTask `json:"tasks"`
	Response string        `json:"response,omitempty"`
}

// ParsePlan decodes the planner's raw JSON output and rejects anything
// that isn't a JSON object with a "tasks" array.
func ParsePlan(raw string) (Plan, error) {
	var probe struct {
		Tasks json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return Plan{}, fmt.Errorf("task: invalid plan JSON: %w", err)
	}
	if len(probe.Tasks) == 0 || string(probe.Tasks) == "null" {
		return Plan{}, fmt.Errorf("task: plan has no \"tasks\" array")
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, fmt.Errorf("task: invalid plan JSON: %w", err)
	}
	if plan.Tasks == nil {
		plan.Tasks = []PlannedTask{}
	}
	return plan, nil
}

// Manager materializes a Plan into persisted, queued Task objects.
type Manager struct {
	store *store.Store
	bus   *taskevents.Bus
	// knownParams resolves (tool, paramName) -> declared, used to drop
	// params keys the tool doesn't declare. A nil
	// entry for a tool means "no schema known, keep everything".
	knownParams func(tool string) (map[string]types.ParamSpec, bool)
}

// NewManager creates a Manager. knownParams should be
// catalog.Catalog.ParamSpecs-backed; pass nil to skip schema-based
// filtering (CLARIFICATION-only flows, tests).
func NewManager(st *store.Store, bus *taskevents.Bus, knownParams func(tool string) (map[string]types.ParamSpec, bool)) *Manager {
	return &Manager{store: st, bus: bus, knownParams: knownParams}
}

// Ingest validates plan.Tasks, filters their params, computes
// dependencies, and appends each as a pending Task.
func (m *Manager) Ingest(sessionID string, plan Plan) ([]types.Task, error) {
	tasks := make([]types.Task, 0, len(plan.Tasks))
	earlierIDs := make([]string, 0, len(plan.Tasks))

	for _, pt := range plan.Tasks {
		if pt.Tool == "" {
			return nil, fmt.Errorf("task: plan entry missing \"tool\"")
		}

		params := pt.Params
		if params == nil {
			params = map[string]any{}
		}
		filtered := filterParams(pt.Tool, params, m.knownParams)

		if pt.Tool == types.ClarificationTool {
			if _, ok := filtered["question"]; !ok {
				return nil, fmt.Errorf("task: CLARIFICATION entry missing params.question")
			}
		}

		dependsOn := pt.DependsOn
		if dependsOn == nil && hasPlaceholder(filtered) {
			dependsOn = append([]string(nil), earlierIDs...)
		}

		now := time.Now().UnixMilli()
		t := types.Task{
			TaskID:      newTaskID(),
			Tool:        pt.Tool,
			Params:      filtered,
			Description: pt.Description,
			Status:      types.TaskPending,
			CreatedAt:   now,
			DependsOn:   dependsOn,
		}

		if err := m.store.AddPending(t); err != nil {
			return nil, fmt.Errorf("task: persist pending task: %w", err)
		}
		if m.bus != nil {
			m.bus.Publish(taskevents.Event{Type: taskevents.TaskQueued, SessionID: sessionID, Task: &t})
		}

		tasks = append(tasks, t)
		earlierIDs = append(earlierIDs, t.TaskID)
	}

	return tasks, nil
}

// filterParams drops the reserved "description" key (invariant 4) and
// any key the tool's declared schema doesn't recognize, unless the
// tool is CLARIFICATION or no schema is known for it.
func filterParams(tool string, params map[string]any, knownParams func(string) (map[string]types.ParamSpec, bool)) map[string]any {
	filtered := make(map[string]any, len(params))
	for k, v := range params {
		if k == "description" {
			continue
		}
		filtered[k] = v
	}

	if tool == types.ClarificationTool || knownParams == nil {
		return filtered
	}

	declared, ok := knownParams(tool)
	if !ok || declared == nil {
		return filtered
	}

	scoped := make(map[string]any, len(filtered))
	for k, v := range filtered {
		if _, declaredOK := declared[k]; declaredOK {
			scoped[k] = v
		}
	}
	return scoped
}

// hasPlaceholder reports whether any string value in params looks like
// a dependency placeholder ("{{previous_result}}" or
// "DEPENDENCY:<pointer>").
func hasPlaceholder(params map[string]any) bool {
	for _, v := range params {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if isPlaceholder(s) {
			return true
		}
	}
	return false
}

func isPlaceholder(s string) bool {
	return strings.Contains(s, "{{") || strings.HasPrefix(s, "DEPENDENCY:")
}

func newTaskID() string {
	return "task_" + ulid.Make().String()
}
