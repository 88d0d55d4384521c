// Package orchestrator implements the session orchestrator: the single
// entry point, process_request, that glues the prompt templates, LLM
// client, task manager, and execution engine into one user-turn →
// assistant-turn cycle, plus the REPL-facing
// stats/report/reset/pause/close/skip operations.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/mcpagent/agentrt/internal/catalog"
	"github.com/mcpagent/agentrt/internal/connmgr"
	"github.com/mcpagent/agentrt/internal/exec"
	"github.com/mcpagent/agentrt/internal/llmclient"
	"github.com/mcpagent/agentrt/internal/memoryhint"
	"github.com/mcpagent/agentrt/internal/prompt"
	"github.com/mcpagent/agentrt/internal/store"
	"github.com/mcpagent/agentrt/internal/task"
	"github.com/mcpagent/agentrt/internal/taskevents"
	"github.com/mcpagent/agentrt/pkg/types"
)

// Config holds the orchestrator's tunables, drawn from the config
// document's agent.* section.
type Config struct {
	CustomInstructions string
	MaxContextEntries  int
	Interpret          bool
}

const defaultMaxContextEntries = 20

// Orchestrator drives process_request for one session. A single
// instance is owned by exactly one session; concurrent calls are
// serialized — one running task at a time.
type Orchestrator struct {
	mu sync.Mutex

	store   *store.Store
	bus     *taskevents.Bus
	manager *connmgr.Manager
	catalog *catalog.Catalog
	tasks   *task.Manager
	engine  *exec.Engine
	llm     *llmclient.Client
	cfg     Config
	log     zerolog.Logger
}

// New assembles an Orchestrator from its already-constructed
// collaborators.
func New(st *store.Store, bus *taskevents.Bus, manager *connmgr.Manager, cat *catalog.Catalog, tasks *task.Manager, engine *exec.Engine, llm *llmclient.Client, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.MaxContextEntries <= 0 {
		cfg.MaxContextEntries = defaultMaxContextEntries
	}
	return &Orchestrator{
		store:   st,
		bus:     bus,
		manager: manager,
		catalog: cat,
		tasks:   tasks,
		engine:  engine,
		llm:     llm,
		cfg:     cfg,
		log:     log.With().Str("component", "orchestrator").Logger(),
	}
}

// ProcessRequest turns one line of user text into an assistant reply,
// planning, executing, and (if needed) pausing on a clarification.
func (o *Orchestrator) ProcessRequest(ctx context.Context, sessionID, userText string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.store.AppendConversation(types.RoleUser, userText); err != nil {
		return "", fmt.Errorf("orchestrator: append user entry: %w", err)
	}
	o.rememberFacts(userText)

	pending, err := o.store.Pending()
	if err != nil {
		return "", fmt.Errorf("orchestrator: read pending queue: %w", err)
	}

	switch {
	case len(pending) > 0 && pending[0].Status == types.TaskAwaitingUser:
		if err := o.resolveClarification(sessionID, pending[0], pending[1:], userText); err != nil {
			return "", err
		}

	default:
		plan, err := o.plan(ctx, userText)
		if err != nil {
			apology := "I wasn't able to work out a plan for that request."
			if _, aerr := o.store.AppendConversation(types.RoleAssistant, apology); aerr != nil {
				return "", fmt.Errorf("orchestrator: append apology: %w", aerr)
			}
			o.log.Warn().Err(err).Msg("planner gave up after retry")
			return apology, nil
		}

		if len(plan.Tasks) == 0 {
			response := plan.Response
			if response == "" {
				response = "Done."
			}
			if _, err := o.store.AppendConversation(types.RoleAssistant, response); err != nil {
				return "", fmt.Errorf("orchestrator: append assistant entry: %w", err)
			}
			o.bumpCounters(func(c *types.SessionCounters) { c.RequestsIssued++ })
			return response, nil
		}

		if _, err := o.tasks.Ingest(sessionID, plan); err != nil {
			return "", fmt.Errorf("orchestrator: ingest plan: %w", err)
		}
	}

	outcome, err := o.engine.Run(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: run execution engine: %w", err)
	}
	o.recordOutcome(outcome)

	var text string
	switch outcome.Status {
	case exec.RunAwaitingUser:
		text = outcome.Question
	case exec.RunFailed:
		text = failureMessage(outcome.FailedTasks)
	default:
		text = o.interpret(ctx, userText, outcome.Results)
	}

	if _, err := o.store.AppendConversation(types.RoleAssistant, text); err != nil {
		return "", fmt.Errorf("orchestrator: append assistant entry: %w", err)
	}
	return text, nil
}

// Skip implements the REPL's out-of-band escape: the task currently
// awaiting a user reply, and anything depending on it, move to skipped.
func (o *Orchestrator) Skip(sessionID string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pending, err := o.store.Pending()
	if err != nil {
		return "", fmt.Errorf("orchestrator: read pending queue: %w", err)
	}
	if len(pending) == 0 || pending[0].Status != types.TaskAwaitingUser {
		return "", fmt.Errorf("orchestrator: no clarification is awaiting a reply")
	}

	head := pending[0]
	rest := pending[1:]

	head.Status = types.TaskSkipped
	head.FinishedAt = time.Now().UnixMilli()
	if err := o.store.AppendCompleted(head); err != nil {
		return "", fmt.Errorf("orchestrator: record skipped task: %w", err)
	}
	o.publish(taskevents.TaskSkipped, sessionID, head)

	blocked := map[string]bool{head.TaskID: true}
	survivors := make([]types.Task, 0, len(rest))
	for _, t := range rest {
		if dependsOnAny(t, blocked) {
			t.Status = types.TaskSkipped
			t.FinishedAt = time.Now().UnixMilli()
			if err := o.store.AppendCompleted(t); err != nil {
				return "", fmt.Errorf("orchestrator: cascade skip: %w", err)
			}
			o.publish(taskevents.TaskSkipped, sessionID, t)
			blocked[t.TaskID] = true
			continue
		}
		survivors = append(survivors, t)
	}

	if err := o.store.ReplacePending(survivors); err != nil {
		return "", fmt.Errorf("orchestrator: drop skipped tasks from pending: %w", err)
	}
	return "Skipped.", nil
}

// Stats returns the session's running counters for the REPL's `stats`
// command.
func (o *Orchestrator) Stats() (types.SessionCounters, error) {
	session, err := o.store.Session()
	if err != nil {
		return types.SessionCounters{}, fmt.Errorf("orchestrator: read session: %w", err)
	}
	return session.Counters, nil
}

// Report renders a short human-readable summary of the session's
// queue and counters for the REPL's `report` command.
func (o *Orchestrator) Report() (string, error) {
	session, err := o.store.Session()
	if err != nil {
		return "", fmt.Errorf("orchestrator: read session: %w", err)
	}
	pending, err := o.store.Pending()
	if err != nil {
		return "", fmt.Errorf("orchestrator: read pending queue: %w", err)
	}
	completed, err := o.store.Completed()
	if err != nil {
		return "", fmt.Errorf("orchestrator: read completed tasks: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "session %s: %s\n", session.ID, session.Status)
	fmt.Fprintf(&b, "requests: %d  completed: %d  failed: %d  retries: %d\n",
		session.Counters.RequestsIssued, session.Counters.TasksCompleted, session.Counters.TasksFailed, session.Counters.RetriesAttempted)
	fmt.Fprintf(&b, "pending: %d  completed-log: %d\n", len(pending), len(completed))
	if len(pending) > 0 && pending[0].Status == types.TaskAwaitingUser {
		fmt.Fprintf(&b, "awaiting reply: %s\n", questionOf(pending[0]))
	}
	return b.String(), nil
}

// Reset clears the pending queue and any in-flight marker, leaving
// conversation history and counters intact, so a fresh request can
// start without interference from a stuck or awaiting task.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.ReplacePending(nil); err != nil {
		return fmt.Errorf("orchestrator: clear pending queue: %w", err)
	}
	if err := o.store.ClearRunning(); err != nil {
		return fmt.Errorf("orchestrator: clear running marker: %w", err)
	}
	return nil
}

// Pause marks the session paused; tasks keep their on-disk
// pending/awaiting_user status, ready to resume on the next run.
func (o *Orchestrator) Pause() error {
	return o.store.PauseAll()
}

// Close archives the session to history and releases the connection
// manager's child processes.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.manager != nil {
		if err := o.manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection manager: %w", err))
		}
	}
	if err := o.store.Archive(); err != nil {
		errs = append(errs, fmt.Errorf("archive session: %w", err))
	}
	if o.bus != nil {
		if err := o.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("orchestrator: close: %v", errs)
}

func (o *Orchestrator) resolveClarification(sessionID string, head types.Task, rest []types.Task, answer string) error {
	head.Result = answer
	head.Status = types.TaskCompleted
	head.FinishedAt = time.Now().UnixMilli()
	if err := o.store.AppendCompleted(head); err != nil {
		return fmt.Errorf("orchestrator: record clarification answer: %w", err)
	}
	if err := o.store.ReplacePending(rest); err != nil {
		return fmt.Errorf("orchestrator: drop clarification from pending: %w", err)
	}
	o.publish(taskevents.TaskCompleted, sessionID, head)
	return nil
}

// plan renders and completes the planner prompt, re-prompting once
// with a stricter JSON-only reminder on a parse failure.
func (o *Orchestrator) plan(ctx context.Context, userText string) (task.Plan, error) {
	conversation, err := o.store.RecentConversation(o.cfg.MaxContextEntries)
	if err != nil {
		return task.Plan{}, fmt.Errorf("orchestrator: read recent conversation: %w", err)
	}

	rendered, err := prompt.Planner(prompt.PlannerContext{
		UserRequest:        userText,
		Conversation:       conversation,
		Tools:              o.toolSummaries(),
		CustomInstructions: o.cfg.CustomInstructions,
	})
	if err != nil {
		return task.Plan{}, fmt.Errorf("orchestrator: render planner prompt: %w", err)
	}

	text, err := o.llm.Complete(ctx, []llmclient.Message{{Role: schema.User, Text: rendered.Text}}, llmclient.CompleteOptions{})
	if err != nil {
		return task.Plan{}, fmt.Errorf("orchestrator: planner completion: %w", err)
	}

	if plan, perr := task.ParsePlan(text); perr == nil {
		return plan, nil
	}

	strict := rendered.Text + "\n\nYour previous response was not valid JSON. Respond with ONLY one valid JSON object and nothing else."
	text, err = o.llm.Complete(ctx, []llmclient.Message{{Role: schema.User, Text: strict}}, llmclient.CompleteOptions{})
	if err != nil {
		return task.Plan{}, fmt.Errorf("orchestrator: planner retry completion: %w", err)
	}
	plan, perr := task.ParsePlan(text)
	if perr != nil {
		return task.Plan{}, &types.TaskError{Kind: types.ErrPlanParseError, Message: perr.Error()}
	}
	return plan, nil
}

// interpret asks the LLM to turn the finished run's results into one
// user-facing sentence; on any failure or when disabled it falls back
// to the raw results, each formatted with %v and joined by "; ".
func (o *Orchestrator) interpret(ctx context.Context, userText string, results []types.Task) string {
	if !o.cfg.Interpret || o.llm == nil || len(results) == 0 {
		return rawResultText(results)
	}

	summaries := make([]prompt.ResultSummary, 0, len(results))
	for _, r := range results {
		encoded := fmt.Sprintf("%v", r.Result)
		summaries = append(summaries, prompt.ResultSummary{TaskID: r.TaskID, Tool: r.Tool, Summary: encoded})
	}

	rendered, err := prompt.Interpretation(prompt.InterpretationContext{UserRequest: userText, Results: summaries})
	if err != nil {
		o.log.Warn().Err(err).Msg("render interpretation prompt failed, falling back to raw result")
		return rawResultText(results)
	}

	text, err := o.llm.Complete(ctx, []llmclient.Message{{Role: schema.User, Text: rendered.Text}}, llmclient.CompleteOptions{})
	if err != nil {
		o.log.Warn().Err(err).Msg("interpretation completion failed, falling back to raw result")
		return rawResultText(results)
	}
	return strings.TrimSpace(text)
}

func rawResultText(results []types.Task) string {
	if len(results) == 0 {
		return "Done."
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%v", r.Result))
	}
	return strings.Join(parts, "; ")
}

// failureMessage names the root-cause failed tool and error kind,
// never a stack trace.
func failureMessage(failed []types.Task) string {
	if len(failed) == 0 {
		return "The request could not be completed."
	}
	root := failed[0]
	kind := types.ErrInternal
	if root.Error != nil {
		kind = root.Error.Kind
	}
	return fmt.Sprintf("%s failed (%s).", root.Tool, kind)
}

func (o *Orchestrator) toolSummaries() []prompt.ToolSummary {
	descriptors := o.catalog.All()
	summaries := make([]prompt.ToolSummary, 0, len(descriptors))
	for _, d := range descriptors {
		summaries = append(summaries, prompt.NewToolSummary(d))
	}
	return summaries
}

func (o *Orchestrator) recordOutcome(outcome exec.Outcome) {
	retries := 0
	for _, t := range outcome.Results {
		retries += t.Attempts
	}
	for _, t := range outcome.FailedTasks {
		// the last failed attempt of a failed task was not retried
		if t.Attempts > 0 {
			retries += t.Attempts - 1
		}
	}
	o.bumpCounters(func(c *types.SessionCounters) {
		c.RequestsIssued++
		c.TasksCompleted += len(outcome.Results)
		c.TasksFailed += len(outcome.FailedTasks)
		c.RetriesAttempted += retries
	})
}

// rememberFacts is a best-effort hook: a recognized "my name is ..."
// or "your name is ..." sentence is stashed in the session's memory
// map. Failure to persist is logged, never surfaced to the user.
func (o *Orchestrator) rememberFacts(userText string) {
	facts := memoryhint.Extract(userText)
	if len(facts) == 0 {
		return
	}
	if _, err := o.store.UpdateSession(func(s *types.Session) {
		if s.Memory == nil {
			s.Memory = make(map[string]any)
		}
		for _, f := range facts {
			s.Memory[f.Key] = f.Value
		}
	}); err != nil {
		o.log.Warn().Err(err).Msg("failed to persist remembered fact")
	}
}

func (o *Orchestrator) bumpCounters(mutate func(*types.SessionCounters)) {
	if _, err := o.store.UpdateSession(func(s *types.Session) { mutate(&s.Counters) }); err != nil {
		o.log.Warn().Err(err).Msg("failed to persist session counters")
	}
}

func (o *Orchestrator) publish(eventType taskevents.EventType, sessionID string, t types.Task) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(taskevents.Event{Type: eventType, SessionID: sessionID, Task: &t})
}

func dependsOnAny(t types.Task, blocked map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if blocked[dep] {
			return true
		}
	}
	return false
}

func questionOf(t types.Task) string {
	if q, ok := t.Params["question"].(string); ok {
		return q
	}
	return ""
}
