package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcpagent/agentrt/pkg/types"
)

func TestStore_InitializeCreatesSession(t *testing.T) {
	root := t.TempDir()
	s := New(root, "sess_abc")

	session, err := s.Initialize()
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if session.Status != types.SessionActive {
		t.Errorf("new session status = %q, want active", session.Status)
	}

	if _, err := os.Stat(filepath.Join(root, "sess_abc", "session.json")); err != nil {
		t.Fatalf("session.json not created: %v", err)
	}

	// Re-initializing loads the same record rather than resetting it.
	if _, err := s.UpdateSession(func(sess *types.Session) {
		sess.Counters.TasksCompleted = 3
	}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	reloaded, err := s.Initialize()
	if err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if reloaded.Counters.TasksCompleted != 3 {
		t.Errorf("reloaded session lost update: got %+v", reloaded.Counters)
	}
}

func TestStore_AppendConversationOrdersBySeq(t *testing.T) {
	root := t.TempDir()
	s := New(root, "sess_conv")
	if _, err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if _, err := s.AppendConversation(types.RoleUser, "hello"); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := s.AppendConversation(types.RoleAssistant, "hi there"); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	entries, err := s.Conversation()
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Seq != 0 || entries[1].Seq != 1 {
		t.Errorf("unexpected seq ordering: %+v", entries)
	}
	if entries[1].Text != "hi there" {
		t.Errorf("entries[1].Text = %q", entries[1].Text)
	}
}

func TestStore_RecentConversationTail(t *testing.T) {
	root := t.TempDir()
	s := New(root, "sess_recent")
	if _, err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := s.AppendConversation(types.RoleUser, "msg"); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recent, err := s.RecentConversation(2)
	if err != nil {
		t.Fatalf("RecentConversation: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d entries, want 2", len(recent))
	}
	if recent[0].Seq != 3 || recent[1].Seq != 4 {
		t.Errorf("unexpected tail: %+v", recent)
	}
}

func TestStore_CompactOldestQuarter(t *testing.T) {
	entries := make([]types.ConversationEntry, 8)
	for i := range entries {
		entries[i] = types.ConversationEntry{Role: types.RoleUser, Text: "x", Seq: int64(i)}
	}

	compacted := compactOldestQuarter(entries)
	if len(compacted) != 7 {
		t.Fatalf("got %d entries after compaction, want 7 (8 - 2 folded + 1 summary)", len(compacted))
	}
	if compacted[0].Role != types.RoleSystem {
		t.Errorf("first entry after compaction should be the system summary, got role %q", compacted[0].Role)
	}
	if compacted[1].Seq != 2 {
		t.Errorf("first surviving original entry should have seq 2, got %d", compacted[1].Seq)
	}
}

func TestStore_PendingQueueRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root, "sess_tasks")
	if _, err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	task := types.Task{TaskID: "t1", Tool: "calc_sum", Status: types.TaskPending}
	if err := s.AddPending(task); err != nil {
		t.Fatalf("AddPending: %v", err)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].TaskID != "t1" {
		t.Fatalf("unexpected pending queue: %+v", pending)
	}

	if err := s.ReplacePending(nil); err != nil {
		t.Fatalf("ReplacePending: %v", err)
	}
	pending, err = s.Pending()
	if err != nil {
		t.Fatalf("Pending after clear: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending queue, got %+v", pending)
	}
}

func TestStore_RunningMarker(t *testing.T) {
	root := t.TempDir()
	s := New(root, "sess_running")
	if _, err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	current, err := s.CurrentRunning()
	if err != nil {
		t.Fatalf("CurrentRunning (idle): %v", err)
	}
	if current != "" {
		t.Errorf("expected idle marker to be empty, got %q", current)
	}

	if err := s.MarkRunning("t1"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	current, err = s.CurrentRunning()
	if err != nil {
		t.Fatalf("CurrentRunning: %v", err)
	}
	if current != "t1" {
		t.Errorf("CurrentRunning = %q, want t1", current)
	}

	if err := s.ClearRunning(); err != nil {
		t.Fatalf("ClearRunning: %v", err)
	}
	current, err = s.CurrentRunning()
	if err != nil {
		t.Fatalf("CurrentRunning (cleared): %v", err)
	}
	if current != "" {
		t.Errorf("expected cleared marker to be empty, got %q", current)
	}
}

func TestStore_CompleteTaskMovesToCompletedList(t *testing.T) {
	root := t.TempDir()
	s := New(root, "sess_complete")
	if _, err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	task := types.Task{TaskID: "t1", Tool: "calc_sum", Status: types.TaskCompleted, Result: 42.0}
	if err := s.AppendCompleted(task); err != nil {
		t.Fatalf("AppendCompleted: %v", err)
	}

	completed, err := s.Completed()
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if len(completed) != 1 || completed[0].TaskID != "t1" {
		t.Fatalf("unexpected completed list: %+v", completed)
	}
}

func TestStore_PauseAndResume(t *testing.T) {
	root := t.TempDir()
	s := New(root, "sess_pause")
	if _, err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := s.PauseAll(); err != nil {
		t.Fatalf("PauseAll: %v", err)
	}
	session, err := s.readSession()
	if err != nil {
		t.Fatalf("readSession: %v", err)
	}
	if session.Status != types.SessionPaused {
		t.Errorf("status after PauseAll = %q, want paused", session.Status)
	}

	if err := s.ResumePaused(); err != nil {
		t.Fatalf("ResumePaused: %v", err)
	}
	session, err = s.readSession()
	if err != nil {
		t.Fatalf("readSession: %v", err)
	}
	if session.Status != types.SessionActive {
		t.Errorf("status after ResumePaused = %q, want active", session.Status)
	}
}

func TestStore_ArchiveWritesHistorySnapshot(t *testing.T) {
	root := t.TempDir()
	s := New(root, "sess_archive")
	if _, err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := s.AppendConversation(types.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendConversation: %v", err)
	}
	if err := s.AppendCompleted(types.Task{TaskID: "t1", Status: types.TaskCompleted}); err != nil {
		t.Fatalf("AppendCompleted: %v", err)
	}

	if err := s.Archive(); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "history", "sess_archive.json")); err != nil {
		t.Fatalf("history snapshot not written: %v", err)
	}

	session, err := s.readSession()
	if err != nil {
		t.Fatalf("readSession after archive: %v", err)
	}
	if session.Status != types.SessionClosed {
		t.Errorf("status after Archive = %q, want closed", session.Status)
	}
}
