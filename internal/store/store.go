// Package store provides the persistent state layer: atomic on-disk
// session, conversation, and task-queue files that let a killed
// process resume exactly where it left off.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/mcpagent/agentrt/pkg/types"
)

// maxConversationBytes bounds conversation.txt before the oldest
// quarter of entries is folded into a summary entry.
const maxConversationBytes = 10 * 1024 * 1024

var ErrNotFound = fmt.Errorf("store: not found")

// Store is the persistent state layer for a single session directory.
type Store struct {
	root      string // parent directory holding all sessions
	sessionID string

	mu    sync.Mutex
	locks map[string]*fileLock
}

// New opens (without yet creating any files) the store for sessionID
// under root. Call Initialize to create a fresh session or load an
// existing one.
func New(root, sessionID string) *Store {
	return &Store{
		root:      root,
		sessionID: sessionID,
		locks:     make(map[string]*fileLock),
	}
}

// NewSessionID mints a timestamp-suffixed session id.
func NewSessionID() string {
	return "sess_" + ulid.Make().String()
}

func (s *Store) dir() string {
	return filepath.Join(s.root, s.sessionID)
}

func (s *Store) sessionPath() string      { return filepath.Join(s.dir(), "session.json") }
func (s *Store) conversationPath() string { return filepath.Join(s.dir(), "conversation.txt") }
func (s *Store) pendingPath() string      { return filepath.Join(s.dir(), "tasks", "pending.json") }
func (s *Store) completedPath() string    { return filepath.Join(s.dir(), "tasks", "completed.json") }
func (s *Store) currentPath() string      { return filepath.Join(s.dir(), "tasks", "current.txt") }
func (s *Store) historyPath() string      { return filepath.Join(s.root, "history", s.sessionID+".json") }

// Initialize loads the session record from disk, or creates a fresh
// one with status=active if none exists. Reads tolerate absent files.
func (s *Store) Initialize() (*types.Session, error) {
	if err := os.MkdirAll(filepath.Join(s.dir(), "tasks"), 0755); err != nil {
		return nil, fmt.Errorf("store: create session dir: %w", err)
	}

	existing, err := s.readSession()
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	now := time.Now().UnixMilli()
	session := &types.Session{
		ID:           s.sessionID,
		CreatedAt:    now,
		LastActiveAt: now,
		Status:       types.SessionActive,
		Memory:       map[string]any{},
	}
	if err := s.writeSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Session returns the current session record without mutating
// LastActiveAt, for read-only callers like stats/report.
func (s *Store) Session() (*types.Session, error) {
	return s.readSession()
}

func (s *Store) readSession() (*types.Session, error) {
	data, err := os.ReadFile(s.sessionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read session: %w", err)
	}
	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("store: decode session: %w", err)
	}
	return &session, nil
}

func (s *Store) writeSession(session *types.Session) error {
	return s.atomicWriteJSON(s.sessionPath(), session)
}

// UpdateSession loads, mutates, and atomically re-persists the session
// record.
func (s *Store) UpdateSession(mutate func(*types.Session)) (*types.Session, error) {
	session, err := s.readSession()
	if err != nil {
		return nil, err
	}
	mutate(session)
	session.LastActiveAt = time.Now().UnixMilli()
	if err := s.writeSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// AppendConversation appends one entry to conversation.txt (append-only
// newline-delimited JSON), compacting the oldest quarter into a summary
// entry first if the file would otherwise exceed its size budget.
func (s *Store) AppendConversation(role types.ConversationRole, text string) (types.ConversationEntry, error) {
	lock := s.getLock(s.conversationPath())
	if err := lock.Lock(); err != nil {
		return types.ConversationEntry{}, fmt.Errorf("store: lock conversation: %w", err)
	}
	defer lock.Unlock()

	entries, err := s.readConversationLocked()
	if err != nil {
		return types.ConversationEntry{}, err
	}

	var seq int64
	if len(entries) > 0 {
		seq = entries[len(entries)-1].Seq + 1
	}

	entry := types.ConversationEntry{
		Role:      role,
		Text:      text,
		Seq:       seq,
		Timestamp: time.Now().UnixMilli(),
	}
	entries = append(entries, entry)

	if conversationSize(entries) > maxConversationBytes {
		entries = compactOldestQuarter(entries)
	}

	if err := s.writeConversationLocked(entries); err != nil {
		return types.ConversationEntry{}, err
	}
	return entry, nil
}

// Conversation returns all entries, oldest first.
func (s *Store) Conversation() ([]types.ConversationEntry, error) {
	lock := s.getLock(s.conversationPath())
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("store: lock conversation: %w", err)
	}
	defer lock.Unlock()
	return s.readConversationLocked()
}

// RecentConversation returns at most n of the most recent entries, used
// to build the planning prompt's context window.
func (s *Store) RecentConversation(n int) ([]types.ConversationEntry, error) {
	entries, err := s.Conversation()
	if err != nil {
		return nil, err
	}
	if len(entries) <= n {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

func (s *Store) readConversationLocked() ([]types.ConversationEntry, error) {
	f, err := os.Open(s.conversationPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open conversation: %w", err)
	}
	defer f.Close()

	var entries []types.ConversationEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry types.ConversationEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("store: decode conversation line: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scan conversation: %w", err)
	}
	return entries, nil
}

func (s *Store) writeConversationLocked(entries []types.ConversationEntry) error {
	if err := os.MkdirAll(s.dir(), 0755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}

	tmp := s.conversationPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("store: create temp conversation: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("store: encode conversation entry: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: flush conversation: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: close temp conversation: %w", err)
	}
	if err := os.Rename(tmp, s.conversationPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename conversation: %w", err)
	}
	return nil
}

func conversationSize(entries []types.ConversationEntry) int {
	total := 0
	for _, e := range entries {
		total += len(e.Text) + 64
	}
	return total
}

// compactOldestQuarter folds the oldest 25% of entries into one system
// "summary" entry. The summary text is built with go-diff's line
// tokenizer so the folded region reports how much text it replaced
// rather than vanishing silently.
func compactOldestQuarter(entries []types.ConversationEntry) []types.ConversationEntry {
	if len(entries) < 4 {
		return entries
	}
	cut := len(entries) / 4
	oldest := entries[:cut]
	rest := entries[cut:]

	var before strings.Builder
	for _, e := range oldest {
		before.WriteString(string(e.Role))
		before.WriteString(": ")
		before.WriteString(e.Text)
		before.WriteString("\n")
	}

	dmp := diffmatchpatch.New()
	_, _, lineArray := dmp.DiffLinesToChars(before.String(), "")

	summaryText := fmt.Sprintf(
		"[compacted %d earlier entries, %d lines, %d bytes]",
		len(oldest), len(lineArray), before.Len(),
	)

	summary := types.ConversationEntry{
		Role:      types.RoleSystem,
		Text:      summaryText,
		Seq:       oldest[0].Seq,
		Timestamp: oldest[len(oldest)-1].Timestamp,
	}

	return append([]types.ConversationEntry{summary}, rest...)
}

// AddPending appends a task to the pending queue.
func (s *Store) AddPending(task types.Task) error {
	lock := s.getLock(s.pendingPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: lock pending: %w", err)
	}
	defer lock.Unlock()

	pending, err := s.readTasksLocked(s.pendingPath())
	if err != nil {
		return err
	}
	pending = append(pending, task)
	return s.writeTasksLocked(s.pendingPath(), pending)
}

// Pending returns the pending queue in order.
func (s *Store) Pending() ([]types.Task, error) {
	lock := s.getLock(s.pendingPath())
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("store: lock pending: %w", err)
	}
	defer lock.Unlock()
	return s.readTasksLocked(s.pendingPath())
}

// ReplacePending overwrites the entire pending queue, used by the
// execution engine when it requeues, reorders, or drops tasks.
func (s *Store) ReplacePending(tasks []types.Task) error {
	lock := s.getLock(s.pendingPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: lock pending: %w", err)
	}
	defer lock.Unlock()
	return s.writeTasksLocked(s.pendingPath(), tasks)
}

// Completed returns the completed/failed/skipped task list in order.
func (s *Store) Completed() ([]types.Task, error) {
	lock := s.getLock(s.completedPath())
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("store: lock completed: %w", err)
	}
	defer lock.Unlock()
	return s.readTasksLocked(s.completedPath())
}

// MarkRunning records task_id as the single currently-running task.
func (s *Store) MarkRunning(taskID string) error {
	return s.atomicWriteFile(s.currentPath(), []byte(taskID))
}

// CurrentRunning returns the id of the running task, or "" when idle.
func (s *Store) CurrentRunning() (string, error) {
	data, err := os.ReadFile(s.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("store: read current: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ClearRunning clears the current-running marker (queue idle).
func (s *Store) ClearRunning() error {
	return s.atomicWriteFile(s.currentPath(), nil)
}

// AppendCompleted moves a finished task into the completed list.
func (s *Store) AppendCompleted(task types.Task) error {
	lock := s.getLock(s.completedPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: lock completed: %w", err)
	}
	defer lock.Unlock()

	completed, err := s.readTasksLocked(s.completedPath())
	if err != nil {
		return err
	}
	completed = append(completed, task)
	return s.writeTasksLocked(s.completedPath(), completed)
}

func (s *Store) readTasksLocked(path string) ([]types.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read tasks %s: %w", path, err)
	}
	var tasks []types.Task
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("store: decode tasks %s: %w", path, err)
	}
	return tasks, nil
}

func (s *Store) writeTasksLocked(path string, tasks []types.Task) error {
	if tasks == nil {
		tasks = []types.Task{}
	}
	return s.atomicWriteJSON(path, tasks)
}

// PauseAll marks the session status as paused without touching task
// statuses on disk (Ctrl-C semantics).
func (s *Store) PauseAll() error {
	_, err := s.UpdateSession(func(session *types.Session) {
		session.Status = types.SessionPaused
	})
	return err
}

// ResumePaused marks the session active again.
func (s *Store) ResumePaused() error {
	_, err := s.UpdateSession(func(session *types.Session) {
		session.Status = types.SessionActive
	})
	return err
}

// Archive snapshots session + conversation + tasks into
// history/<session_id>.json and marks the session closed.
func (s *Store) Archive() error {
	session, err := s.readSession()
	if err != nil {
		return err
	}
	conversation, err := s.Conversation()
	if err != nil {
		return err
	}
	pending, err := s.Pending()
	if err != nil {
		return err
	}
	completed, err := s.Completed()
	if err != nil {
		return err
	}

	session.Status = types.SessionClosed

	snapshot := struct {
		Session      *types.Session             `json:"session"`
		Conversation []types.ConversationEntry  `json:"conversation"`
		Pending      []types.Task               `json:"pending"`
		Completed    []types.Task               `json:"completed"`
		ArchivedAt   int64                      `json:"archivedAt"`
	}{
		Session:      session,
		Conversation: conversation,
		Pending:      pending,
		Completed:    completed,
		ArchivedAt:   time.Now().UnixMilli(),
	}

	if err := os.MkdirAll(filepath.Join(s.root, "history"), 0755); err != nil {
		return fmt.Errorf("store: mkdir history: %w", err)
	}
	if err := s.atomicWriteJSON(s.historyPath(), snapshot); err != nil {
		return err
	}
	return s.writeSession(session)
}

func (s *Store) atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	return s.atomicWriteFile(path, data)
}

func (s *Store) atomicWriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("store: write temp %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename %s: %w", path, err)
	}
	return nil
}

func (s *Store) getLock(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = newFileLock(path)
		s.locks[path] = l
	}
	return l
}

// SortByCreated sorts tasks by creation time, oldest first; tasks with
// equal creation times keep their relative order.
func SortByCreated(tasks []types.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt < tasks[j].CreatedAt
	})
}
