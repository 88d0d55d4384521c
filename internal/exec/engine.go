// Package exec implements the execution engine: the
// single-flight dispatch loop that pops the head of the pending queue,
// resolves dependency placeholders, calls the connection manager, and
// applies a per-error-kind retry/repair policy, writing every
// transition to the store before the next one begins.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/mcpagent/agentrt/internal/catalog"
	"github.com/mcpagent/agentrt/internal/connmgr"
	"github.com/mcpagent/agentrt/internal/llmclient"
	"github.com/mcpagent/agentrt/internal/prompt"
	"github.com/mcpagent/agentrt/internal/store"
	"github.com/mcpagent/agentrt/internal/taskevents"
	"github.com/mcpagent/agentrt/pkg/types"
)

const defaultMaxAttempts = 3

// RunStatus is the outcome of one call to Run.
type RunStatus string

const (
	RunCompleted    RunStatus = "completed"
	RunAwaitingUser RunStatus = "awaiting_user"
	RunFailed       RunStatus = "failed"
)

// Outcome summarizes one Run call for the session orchestrator.
type Outcome struct {
	Status      RunStatus
	Question    string
	Results     []types.Task
	FailedTasks []types.Task
}

// Engine owns the dispatch loop for one session.
type Engine struct {
	store       *store.Store
	bus         *taskevents.Bus
	manager     *connmgr.Manager
	catalog     *catalog.Catalog
	llm         *llmclient.Client
	maxAttempts int
	toolTimeout time.Duration
	log         zerolog.Logger
}

// New creates an Engine. llm may be nil; repair and dependency-pointer
// resolution are then skipped and such tasks fail immediately.
func New(st *store.Store, bus *taskevents.Bus, manager *connmgr.Manager, cat *catalog.Catalog, llm *llmclient.Client, maxAttempts int, toolTimeout time.Duration, log zerolog.Logger) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if toolTimeout <= 0 {
		toolTimeout = connmgr.DefaultCallTimeout
	}
	return &Engine{
		store:       st,
		bus:         bus,
		manager:     manager,
		catalog:     cat,
		llm:         llm,
		maxAttempts: maxAttempts,
		toolTimeout: toolTimeout,
		log:         log.With().Str("component", "exec").Logger(),
	}
}

// Run drives the dispatch loop until the pending queue is empty, a
// CLARIFICATION task is reached, or the queue's head is already
// awaiting a user reply.
func (e *Engine) Run(ctx context.Context, sessionID string) (Outcome, error) {
	var completedThisRun []types.Task
	var failedThisRun []types.Task

	for {
		pending, err := e.store.Pending()
		if err != nil {
			return Outcome{}, fmt.Errorf("exec: read pending queue: %w", err)
		}
		if len(pending) == 0 {
			status := RunCompleted
			if len(failedThisRun) > 0 {
				status = RunFailed
			}
			return Outcome{Status: status, Results: completedThisRun, FailedTasks: failedThisRun}, nil
		}

		head := pending[0]
		rest := append([]types.Task(nil), pending[1:]...)

		if head.Status == types.TaskAwaitingUser {
			return Outcome{Status: RunAwaitingUser, Question: questionOf(head), Results: completedThisRun, FailedTasks: failedThisRun}, nil
		}

		if err := e.store.ReplacePending(rest); err != nil {
			return Outcome{}, fmt.Errorf("exec: pop pending task: %w", err)
		}
		if err := e.store.MarkRunning(head.TaskID); err != nil {
			return Outcome{}, fmt.Errorf("exec: mark running: %w", err)
		}
		head.Status = types.TaskRunning
		head.StartedAt = time.Now().UnixMilli()
		e.publish(taskevents.TaskStarted, sessionID, head)

		if head.IsClarification() {
			head.Status = types.TaskAwaitingUser
			if err := e.store.ReplacePending(prepend(head, rest)); err != nil {
				return Outcome{}, fmt.Errorf("exec: suspend for clarification: %w", err)
			}
			if err := e.store.ClearRunning(); err != nil {
				return Outcome{}, fmt.Errorf("exec: clear running marker: %w", err)
			}
			e.publish(taskevents.TaskAwaitingUser, sessionID, head)
			return Outcome{Status: RunAwaitingUser, Question: questionOf(head), Results: completedThisRun, FailedTasks: failedThisRun}, nil
		}

		completed, err := e.store.Completed()
		if err != nil {
			return Outcome{}, fmt.Errorf("exec: read completed tasks: %w", err)
		}

		resolved, err := e.resolvePlaceholders(ctx, head, completed)
		var callResult connmgr.Result
		if err != nil {
			callResult = connmgr.Result{Err: &types.TaskError{Kind: types.ErrInternal, Message: err.Error()}}
		} else {
			head.Params = resolved
			callResult = e.dispatch(ctx, head)
		}

		if callResult.Err == nil {
			head.Status = types.TaskCompleted
			head.Result = callResult.Value
			head.FinishedAt = time.Now().UnixMilli()
			head.History = append(head.History, types.AttemptRecord{Attempt: head.Attempts + 1, StartedAt: head.StartedAt, EndedAt: head.FinishedAt})
			if err := e.store.AppendCompleted(head); err != nil {
				return Outcome{}, fmt.Errorf("exec: append completed task: %w", err)
			}
			if err := e.store.ClearRunning(); err != nil {
				return Outcome{}, fmt.Errorf("exec: clear running marker: %w", err)
			}
			e.publish(taskevents.TaskCompleted, sessionID, head)
			completedThisRun = append(completedThisRun, head)
			continue
		}

		rest, err = e.store.Pending()
		if err != nil {
			return Outcome{}, fmt.Errorf("exec: re-read pending queue: %w", err)
		}
		newlyFailed, err := e.handleError(ctx, sessionID, head, rest, callResult.Err, completed)
		if err != nil {
			return Outcome{}, err
		}
		failedThisRun = append(failedThisRun, newlyFailed...)
	}
}

// dispatch validates params against the catalog's declared schema and,
// if they pass, calls the connection manager.
func (e *Engine) dispatch(ctx context.Context, task types.Task) connmgr.Result {
	validated, verr := e.catalog.ValidateParams(task.Tool, task.Params)
	if verr != nil {
		return connmgr.Result{Err: verr}
	}

	desc, ok := e.catalog.Lookup(task.Tool)
	if !ok {
		return connmgr.Result{Err: &types.TaskError{Kind: types.ErrUnknownTool, Message: fmt.Sprintf("no such tool: %s", task.Tool)}}
	}

	timeout := e.toolTimeout
	if task.Attempts > 0 {
		// one doubled-timeout retry is handled by handleError re-dispatching
		// with Attempts already incremented; double it here too so the
		// context deadline matches the retry policy below.
		if lastErr := task.Error; lastErr != nil && lastErr.Kind == types.ErrTimeout {
			timeout *= 2
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.manager.CallTool(callCtx, desc.Server, task.Tool, validated)
}

// handleError applies the error-kind retry/repair policy table to a failed
// task, either requeuing it (possibly repaired) at the head of rest or
// finalizing it as failed and cascading failure to dependents still in
// rest. It returns every task finalized as failed during this call.
func (e *Engine) handleError(ctx context.Context, sessionID string, task types.Task, rest []types.Task, taskErr *types.TaskError, completed []types.Task) ([]types.Task, error) {
	task.Error = taskErr
	task.Attempts++
	task.History = append(task.History, types.AttemptRecord{Attempt: task.Attempts, Error: taskErr, StartedAt: task.StartedAt, EndedAt: time.Now().UnixMilli()})

	switch taskErr.Kind {
	case types.ErrUnknownTool:
		if task.Attempts == 1 {
			if repaired, ok := e.repair(ctx, task, taskErr, completed); ok {
				return nil, e.requeue(sessionID, applyRepair(task, repaired), rest)
			}
		}
		return e.finalizeFailed(sessionID, task, rest)

	case types.ErrInvalidParams, types.ErrToolError:
		if task.Attempts < e.maxAttempts {
			if repaired, ok := e.repair(ctx, task, taskErr, completed); ok {
				return nil, e.requeue(sessionID, applyRepair(task, repaired), rest)
			}
		}
		return e.finalizeFailed(sessionID, task, rest)

	case types.ErrTimeout:
		if task.Attempts == 1 {
			return nil, e.requeue(sessionID, task, rest)
		}
		return e.finalizeFailed(sessionID, task, rest)

	case types.ErrTransportClosed:
		// connmgr has already attempted its one reconnect; no further
		// retry happens here; this kind fails immediately.
		return e.finalizeFailed(sessionID, task, rest)

	case types.ErrDecodeError:
		task.Error = &types.TaskError{Kind: types.ErrDecodeError, Message: fmt.Sprintf("decode error (%d bytes)", len(taskErr.Message))}
		return e.finalizeFailed(sessionID, task, rest)

	default:
		return e.finalizeFailed(sessionID, task, rest)
	}
}

// requeue writes task back to the head of the pending queue as
// pending' — requeued at the head with attempts incremented.
func (e *Engine) requeue(sessionID string, task types.Task, rest []types.Task) error {
	task.Status = types.TaskPending
	if err := e.store.ReplacePending(prepend(task, rest)); err != nil {
		return fmt.Errorf("exec: requeue task: %w", err)
	}
	if err := e.store.ClearRunning(); err != nil {
		return fmt.Errorf("exec: clear running marker: %w", err)
	}
	e.publish(taskevents.TaskRetrying, sessionID, task)
	return nil
}

// finalizeFailed marks task failed, persists it, and cascades failure
// to every task still in rest that (transitively) depends on it,
// so independent tasks in rest are left to run normally.
func (e *Engine) finalizeFailed(sessionID string, task types.Task, rest []types.Task) ([]types.Task, error) {
	task.Status = types.TaskFailed
	task.FinishedAt = time.Now().UnixMilli()
	if err := e.store.AppendCompleted(task); err != nil {
		return nil, fmt.Errorf("exec: append failed task: %w", err)
	}
	if err := e.store.ClearRunning(); err != nil {
		return nil, fmt.Errorf("exec: clear running marker: %w", err)
	}
	e.publish(taskevents.TaskFailed, sessionID, task)

	failed := []types.Task{task}
	blocked := map[string]bool{task.TaskID: true}
	survivors := make([]types.Task, 0, len(rest))

	for _, t := range rest {
		if dependsOnAny(t, blocked) {
			t.Status = types.TaskFailed
			t.Error = &types.TaskError{Kind: types.ErrInternal, Message: fmt.Sprintf("blocked: dependency %s failed", task.TaskID)}
			t.FinishedAt = time.Now().UnixMilli()
			if err := e.store.AppendCompleted(t); err != nil {
				return nil, fmt.Errorf("exec: append cascaded failure: %w", err)
			}
			e.publish(taskevents.TaskFailed, sessionID, t)
			blocked[t.TaskID] = true
			failed = append(failed, t)
			continue
		}
		survivors = append(survivors, t)
	}

	if err := e.store.ReplacePending(survivors); err != nil {
		return nil, fmt.Errorf("exec: drop cascaded failures from pending: %w", err)
	}
	return failed, nil
}

func dependsOnAny(t types.Task, blocked map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if blocked[dep] {
			return true
		}
	}
	return false
}

// repairResponse is the repair-prompt's output contract.
type repairResponse struct {
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description,omitempty"`
	Abort       bool           `json:"abort,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// repair asks the LLM for a replacement task via the repair prompt.
func (e *Engine) repair(ctx context.Context, task types.Task, taskErr *types.TaskError, completed []types.Task) (repairResponse, bool) {
	if e.llm == nil {
		return repairResponse{}, false
	}

	paramsJSON, err := json.Marshal(task.Params)
	if err != nil {
		return repairResponse{}, false
	}

	rendered, err := prompt.Repair(prompt.RepairContext{
		Task:          task,
		ParamsJSON:    string(paramsJSON),
		Error:         *taskErr,
		RecentResults: recentResultSummaries(completed, 5),
	})
	if err != nil {
		return repairResponse{}, false
	}

	text, err := e.llm.Complete(ctx, []llmclient.Message{{Role: schema.User, Text: rendered.Text}}, llmclient.CompleteOptions{})
	if err != nil {
		e.log.Warn().Err(err).Str("task", task.TaskID).Msg("repair completion failed")
		return repairResponse{}, false
	}

	var resp repairResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil || resp.Abort || resp.Tool == "" {
		return repairResponse{}, false
	}
	return resp, true
}

func applyRepair(task types.Task, repaired repairResponse) types.Task {
	task.Tool = repaired.Tool
	if repaired.Params != nil {
		task.Params = repaired.Params
	}
	if repaired.Description != "" {
		task.Description = repaired.Description
	}
	return task
}

// resolvePlaceholders substitutes "{{previous_result}}" with the most
// recently completed task's result and "DEPENDENCY:<pointer>" with a
// value resolved via the repair template.
func (e *Engine) resolvePlaceholders(ctx context.Context, task types.Task, completed []types.Task) (map[string]any, error) {
	if len(task.Params) == 0 {
		return task.Params, nil
	}

	var previous *types.Task
	if len(completed) > 0 {
		previous = &completed[len(completed)-1]
	}

	out := make(map[string]any, len(task.Params))
	for k, v := range task.Params {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}

		switch {
		case s == "{{previous_result}}":
			if previous == nil {
				return nil, fmt.Errorf("exec: %q references previous_result but no task has completed", k)
			}
			out[k] = previous.Result

		case strings.Contains(s, "{{previous_result}}"):
			if previous == nil {
				return nil, fmt.Errorf("exec: %q references previous_result but no task has completed", k)
			}
			encoded, err := json.Marshal(previous.Result)
			if err != nil {
				return nil, fmt.Errorf("exec: encode previous result: %w", err)
			}
			out[k] = strings.ReplaceAll(s, "{{previous_result}}", string(encoded))

		case strings.HasPrefix(s, "DEPENDENCY:"):
			pointer := strings.TrimPrefix(s, "DEPENDENCY:")
			value, err := e.resolveDependencyPointer(ctx, task, k, pointer, completed)
			if err != nil {
				return nil, err
			}
			out[k] = value

		default:
			out[k] = v
		}
	}
	return out, nil
}

// resolveDependencyPointer asks the LLM, via the repair template
// repurposed as a resolution prompt, what value a natural-language
// dependency pointer resolves to against the completed results so far.
func (e *Engine) resolveDependencyPointer(ctx context.Context, task types.Task, key, pointer string, completed []types.Task) (any, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("exec: cannot resolve dependency pointer %q without an LLM client", pointer)
	}

	rendered, err := prompt.Repair(prompt.RepairContext{
		Task:          task,
		ParamsJSON:    fmt.Sprintf("{%q: %q}", key, pointer),
		Error:         types.TaskError{Kind: types.ErrInvalidParams, Message: fmt.Sprintf("resolve dependency pointer for %q: %s", key, pointer)},
		RecentResults: recentResultSummaries(completed, 5),
	})
	if err != nil {
		return nil, fmt.Errorf("exec: render dependency resolution prompt: %w", err)
	}

	text, err := e.llm.Complete(ctx, []llmclient.Message{{Role: schema.User, Text: rendered.Text}}, llmclient.CompleteOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec: resolve dependency pointer %q: %w", pointer, err)
	}

	var resp repairResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("exec: dependency resolution returned invalid JSON: %w", err)
	}
	if resp.Abort {
		return nil, fmt.Errorf("exec: dependency pointer %q unresolved: %s", pointer, resp.Reason)
	}
	value, ok := resp.Params[key]
	if !ok {
		return nil, fmt.Errorf("exec: dependency resolution response missing key %q", key)
	}
	return value, nil
}

func recentResultSummaries(completed []types.Task, n int) []prompt.ResultSummary {
	if len(completed) > n {
		completed = completed[len(completed)-n:]
	}
	out := make([]prompt.ResultSummary, 0, len(completed))
	for _, t := range completed {
		summary := ""
		if t.Status == types.TaskFailed && t.Error != nil {
			summary = t.Error.Error()
		} else if encoded, err := json.Marshal(t.Result); err == nil {
			summary = string(encoded)
		}
		out = append(out, prompt.ResultSummary{TaskID: t.TaskID, Tool: t.Tool, Summary: summary})
	}
	return out
}

func questionOf(task types.Task) string {
	if q, ok := task.Params["question"].(string); ok {
		return q
	}
	return ""
}

func prepend(task types.Task, rest []types.Task) []types.Task {
	out := make([]types.Task, 0, len(rest)+1)
	out = append(out, task)
	return append(out, rest...)
}

func (e *Engine) publish(eventType taskevents.EventType, sessionID string, task types.Task) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(taskevents.Event{Type: eventType, SessionID: sessionID, Task: &task})
}
