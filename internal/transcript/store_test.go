package transcript

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mkeller/taskpilot/internal/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func sampleRecord(id string, started time.Time) *RunRecord {
	return &RunRecord{
		ID:           id,
		Instruction:  "list the files",
		Model:        "test-model",
		Turns:        3,
		MaxTurns:     20,
		InputTokens:  100,
		OutputTokens: 40,
		ToolsCalled:  map[string]int{"list_files": 2},
		Messages: []llm.Message{
			llm.UserMessage(llm.TextBlock("list the files")),
		},
		ResultContent: "done: a.txt, b.txt",
		StartedAt:     started,
		CompletedAt:   started.Add(2 * time.Second),
		DurationMs:    2000,
	}
}

func TestStoreRecordAndGet(t *testing.T) {
	store := newTestStore(t)
	started := time.Now().UTC().Truncate(time.Millisecond)

	if err := store.Record(sampleRecord("run-1", started)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Instruction != "list the files" {
		t.Errorf("instruction = %q", got.Instruction)
	}
	if got.Turns != 3 || got.MaxTurns != 20 {
		t.Errorf("turns = %d/%d, want 3/20", got.Turns, got.MaxTurns)
	}
	if got.ToolsCalled["list_files"] != 2 {
		t.Errorf("tools_called = %v", got.ToolsCalled)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}
}

func TestStoreRecordTruncatedRun(t *testing.T) {
	store := newTestStore(t)

	rec := sampleRecord("run-2", time.Now())
	rec.Truncated = true
	rec.ExhaustReason = "max_turns"
	if err := store.Record(rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get("run-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Truncated || got.ExhaustReason != "max_turns" {
		t.Errorf("got truncated=%v reason=%q", got.Truncated, got.ExhaustReason)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"old", "mid", "new"} {
		rec := sampleRecord(id, base.Add(time.Duration(i)*time.Minute))
		if err := store.Record(rec); err != nil {
			t.Fatalf("Record %s: %v", id, err)
		}
	}

	records, err := store.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].ID != "new" || records[2].ID != "old" {
		t.Errorf("order = %s, %s, %s; want new, mid, old",
			records[0].ID, records[1].ID, records[2].ID)
	}

	limited, err := store.List(2)
	if err != nil {
		t.Fatalf("List(2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d records, want 2", len(limited))
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get("absent"); err == nil {
		t.Fatal("Get of missing id should fail")
	}
}

func TestExtractToolsCalled(t *testing.T) {
	messages := []llm.Message{
		llm.UserMessage(llm.TextBlock("do things")),
		{
			Role: "assistant",
			Content: []llm.ContentBlock{
				{Type: llm.BlockToolUse, ID: "1", Name: "bash"},
				{Type: llm.BlockToolUse, ID: "2", Name: "read_file"},
			},
		},
		llm.UserMessage(llm.ToolResultBlock("1", "ok", false)),
		{
			Role: "assistant",
			Content: []llm.ContentBlock{
				{Type: llm.BlockToolUse, ID: "3", Name: "bash"},
			},
		},
	}

	counts := ExtractToolsCalled(messages)
	if counts["bash"] != 2 || counts["read_file"] != 1 {
		t.Errorf("counts = %v, want bash:2 read_file:1", counts)
	}

	if got := ExtractToolsCalled(nil); got != nil {
		t.Errorf("empty history should yield nil, got %v", got)
	}
}
