package exec

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpagent/agentrt/internal/catalog"
	"github.com/mcpagent/agentrt/internal/connmgr"
	"github.com/mcpagent/agentrt/internal/llmclient"
	"github.com/mcpagent/agentrt/internal/store"
	"github.com/mcpagent/agentrt/pkg/types"
)

// fakeProvider returns a fixed sequence of repair responses, kept
// local (rather than llmclient.MockProvider) so tests can assert on
// call count.
type fakeProvider struct {
	responses []string
	calls     int
}

func (f *fakeProvider) ID() string             { return "fake" }
func (f *fakeProvider) Model() llmclient.Model { return llmclient.Model{ID: "fake"} }
func (f *fakeProvider) Complete(_ context.Context, _ []llmclient.Message, _ llmclient.CompleteOptions) (string, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(t.TempDir(), "sess_exec_test")
	_, err := st.Initialize()
	require.NoError(t, err)
	return st
}

func sumDescriptor() types.ToolDescriptor {
	return types.ToolDescriptor{
		Server: "calc",
		Name:   "add",
		Params: map[string]types.ParamSpec{
			"a": {Type: "number", Required: true},
			"b": {Type: "number", Required: true},
		},
	}
}

func newEngine(t *testing.T, llm *llmclient.Client) (*Engine, *store.Store, *catalog.Catalog) {
	t.Helper()
	st := newTestStore(t)
	cat := catalog.New(zerolog.Nop())
	cat.Register([]types.ToolDescriptor{sumDescriptor()})
	mgr := connmgr.New(zerolog.Nop())
	e := New(st, nil, mgr, cat, llm, 3, time.Second, zerolog.Nop())
	return e, st, cat
}

func TestEngine_RunEmptyQueueCompletesImmediately(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	outcome, err := e.Run(context.Background(), "sess_exec_test")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, outcome.Status)
}

func TestEngine_DispatchUnknownToolFailsWithoutLLM(t *testing.T) {
	e, st, _ := newEngine(t, nil)
	require.NoError(t, st.AddPending(types.Task{
		TaskID: "t1", Tool: "does_not_exist", Params: map[string]any{}, Status: types.TaskPending,
	}))

	outcome, err := e.Run(context.Background(), "sess_exec_test")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status)
	require.Len(t, outcome.FailedTasks, 1)
	assert.Equal(t, types.ErrUnknownTool, outcome.FailedTasks[0].Error.Kind)
}

func TestEngine_ClarificationSuspendsRun(t *testing.T) {
	e, st, _ := newEngine(t, nil)
	require.NoError(t, st.AddPending(types.Task{
		TaskID: "t1", Tool: types.ClarificationTool,
		Params: map[string]any{"question": "what is your age?"}, Status: types.TaskPending,
	}))

	outcome, err := e.Run(context.Background(), "sess_exec_test")
	require.NoError(t, err)
	assert.Equal(t, RunAwaitingUser, outcome.Status)
	assert.Contains(t, outcome.Question, "age")

	pending, err := st.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.TaskAwaitingUser, pending[0].Status)

	// A second Run call against an already-awaiting head must not pop it.
	outcome2, err := e.Run(context.Background(), "sess_exec_test")
	require.NoError(t, err)
	assert.Equal(t, RunAwaitingUser, outcome2.Status)
}

func TestEngine_ResolvesPreviousResultPlaceholderExact(t *testing.T) {
	e, st, _ := newEngine(t, nil)
	require.NoError(t, st.AppendCompleted(types.Task{
		TaskID: "t0", Tool: "add", Status: types.TaskCompleted, Result: float64(300),
	}))
	require.NoError(t, st.AddPending(types.Task{
		TaskID: "t1", Tool: "add",
		Params: map[string]any{"a": "{{previous_result}}", "b": float64(2)},
		Status: types.TaskPending,
	}))

	resolved, err := e.resolvePlaceholders(context.Background(), types.Task{
		Params: map[string]any{"a": "{{previous_result}}", "b": float64(2)},
	}, []types.Task{{TaskID: "t0", Status: types.TaskCompleted, Result: float64(300)}})
	require.NoError(t, err)
	assert.Equal(t, float64(300), resolved["a"])
	assert.Equal(t, float64(2), resolved["b"])
}

func TestEngine_RepairLoopRetriesRepairedTask(t *testing.T) {
	fake := &fakeProvider{responses: []string{
		`{"tool":"add","params":{"a":1,"b":2},"description":"repaired"}`,
	}}
	client := llmclient.New(fake, zerolog.Nop())
	e, st, _ := newEngine(t, client)

	require.NoError(t, st.AddPending(types.Task{
		TaskID: "t1", Tool: "add",
		Params: map[string]any{"a": float64(1)}, // missing required "b"
		Status: types.TaskPending,
	}))

	outcome, err := e.Run(context.Background(), "sess_exec_test")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status, "repaired task still fails dispatch since no real tool server is connected")

	completed, err := st.Completed()
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.GreaterOrEqual(t, completed[0].Attempts, 1)
	assert.Equal(t, 1, fake.calls)
}

func TestEngine_CascadesFailureToDependents(t *testing.T) {
	e, st, _ := newEngine(t, nil)
	require.NoError(t, st.AddPending(types.Task{
		TaskID: "t1", Tool: "does_not_exist", Params: map[string]any{}, Status: types.TaskPending,
	}))
	require.NoError(t, st.AddPending(types.Task{
		TaskID: "t2", Tool: "add", Params: map[string]any{"a": float64(1), "b": float64(2)},
		Status: types.TaskPending, DependsOn: []string{"t1"},
	}))

	outcome, err := e.Run(context.Background(), "sess_exec_test")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, outcome.Status)
	require.Len(t, outcome.FailedTasks, 2)

	completed, err := st.Completed()
	require.NoError(t, err)
	require.Len(t, completed, 2)
	for _, task := range completed {
		assert.Equal(t, types.TaskFailed, task.Status)
	}
}

func TestEngine_SerialExecutionClearsRunningMarker(t *testing.T) {
	e, st, _ := newEngine(t, nil)
	require.NoError(t, st.AddPending(types.Task{
		TaskID: "t1", Tool: "does_not_exist", Params: map[string]any{}, Status: types.TaskPending,
	}))

	_, err := e.Run(context.Background(), "sess_exec_test")
	require.NoError(t, err)

	running, err := st.CurrentRunning()
	require.NoError(t, err)
	assert.Empty(t, running)
}
