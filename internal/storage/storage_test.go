package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/tabpanel/internal/types"
)

func openMemoryStore(t *testing.T) *ExtractionStore {
	t.Helper()
	db, err := Open(memoryPath, WithSchema(extractionSchema))
	if err != nil {
		t.Fatalf("Open(:memory:) = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewExtractionStore(db)
}

func TestOpenAppliesPragmas(t *testing.T) {
	db, err := Open(memoryPath, WithBusyTimeout(5000))
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer db.Close()

	var fk, busy int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d; want 1", fk)
	}
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 5000 {
		t.Fatalf("busy_timeout = %d; want 5000", busy)
	}
}

func TestOpenFilePragmasOnEveryConnection(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(4)

	ctx := context.Background()
	conns := make([]*sql.Conn, 0, 3)
	for i := 0; i < 3; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn() = %v", err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	for i, conn := range conns {
		var fk, busy int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatal(err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
			t.Fatal(err)
		}
		if fk != 1 || busy != 10000 {
			t.Fatalf("conn %d foreign_keys=%d busy_timeout=%d; want 1 and 10000", i, fk, busy)
		}
	}
}

func TestDeletingExtractionCascadesToCanvases(t *testing.T) {
	store, err := OpenExtractionStore(filepath.Join(t.TempDir(), "tabpanel.db"))
	if err != nil {
		t.Fatalf("OpenExtractionStore() = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	saved, err := store.Save(ctx, types.Extraction{TabID: "7", Canvases: []types.CanvasInfo{{Index: 0}, {Index: 1}}})
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}
	if _, err := store.db.ExecContext(ctx, "DELETE FROM extractions WHERE id = ?", saved.ID); err != nil {
		t.Fatalf("delete extraction = %v", err)
	}
	var n int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM canvases").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("canvases left after delete = %d; want 0", n)
	}
}

func TestOpenExtractionStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tabpanel.db")
	store, err := OpenExtractionStore(path)
	if err != nil {
		t.Fatalf("OpenExtractionStore() = %v", err)
	}
	defer store.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
}

func TestExtractionSaveAndGet(t *testing.T) {
	store := openMemoryStore(t)
	store.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	store.newID = func() string { return "ext-1" }

	canvases := []types.CanvasInfo{
		{Index: 1, Width: 10, Height: 10, Error: "tainted"},
		{Index: 0, Width: 300, Height: 150, DataURL: "data:image/png;base64,AAAA...", DataLength: 5000, DataSHA256: "abc", Success: true, ImagePath: "/tmp/x.png"},
	}
	saved, err := store.Save(context.Background(), types.Extraction{TabID: "7", URL: "https://example.com/", Canvases: canvases})
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}
	if saved.ID != "ext-1" || saved.TabID != "7" {
		t.Fatalf("Save() = %+v; want id ext-1 tab 7", saved)
	}

	got, err := store.Get(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if !got.CreatedAt.Equal(saved.CreatedAt) || got.URL != "https://example.com/" {
		t.Fatalf("Get() = %+v; want saved metadata %+v", got, saved)
	}
	if len(got.Canvases) != 2 {
		t.Fatalf("Get() canvases = %d; want 2", len(got.Canvases))
	}
	if got.Canvases[0] != canvases[1] || got.Canvases[1] != canvases[0] {
		t.Fatalf("Get() canvases = %+v; want ordered by index", got.Canvases)
	}
}

func TestExtractionSaveKeepsGivenID(t *testing.T) {
	store := openMemoryStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	saved, err := store.Save(context.Background(), types.Extraction{ID: "fixed", TabID: "7", CreatedAt: at})
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}
	if saved.ID != "fixed" || !saved.CreatedAt.Equal(at.Truncate(time.Millisecond)) {
		t.Fatalf("Save() = %+v; want given id and millisecond timestamp", saved)
	}
	if saved.Canvases == nil {
		t.Fatal("Save() canvases = nil; want empty slice")
	}
}

func TestExtractionGetUnknown(t *testing.T) {
	store := openMemoryStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v; want ErrNotFound", err)
	}
}

func TestExtractionListNewestFirst(t *testing.T) {
	store := openMemoryStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		store.newID = func() string { return id }
		if _, err := store.Save(context.Background(), types.Extraction{TabID: "7"}); err != nil {
			t.Fatalf("Save(%s) = %v", id, err)
		}
	}

	got, err := store.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("List(2) = %+v; want [c b]", got)
	}
}

func TestImageWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewImageWriter(dir)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	path, err := w.WritePNG("../7", "ext-1", 2, []byte("png"))
	if err != nil {
		t.Fatalf("WritePNG() = %v", err)
	}
	want := filepath.Join(dir, "2026-03-01", ".._7", "ext-1-2.png")
	if path != want {
		t.Fatalf("WritePNG() path = %q; want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "png" {
		t.Fatalf("file = %q, %v; want png", data, err)
	}
}

func TestJournalWritesLines(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 8, 1)
	j.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	for i := 1; i <= 3; i++ {
		entry := JournalEntry{Feed: "transition", ID: int64(i), Data: json.RawMessage(`{"tab_id":"7"}`)}
		if err := j.Write(entry); err != nil {
			t.Fatalf("Write(%d) = %v", i, err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := j.Write(JournalEntry{}); err == nil {
		t.Fatal("Write() after Close error = nil; want error")
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026-03-01", "status.jsonl"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("journal lines = %d; want 3:\n%s", len(lines), data)
	}
	var first JournalEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if first.Feed != "transition" || first.ID != 1 || string(first.Data) != `{"tab_id":"7"}` {
		t.Fatalf("first entry = %+v", first)
	}
}

func TestJournalRotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 8, 1)
	var day atomic.Int64
	day.Store(1)
	j.now = func() time.Time { return time.Date(2026, 3, int(day.Load()), 23, 0, 0, 0, time.UTC) }

	if err := j.Write(JournalEntry{Feed: "relay", ID: 1}); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	first := filepath.Join(dir, "2026-03-01", "status.jsonl")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(first); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first day journal never written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	day.Store(2)
	if err := j.Write(JournalEntry{Feed: "relay", ID: 2}); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	for date, wantID := range map[string]string{"2026-03-01": `"id":1`, "2026-03-02": `"id":2`} {
		data, err := os.ReadFile(filepath.Join(dir, date, "status.jsonl"))
		if err != nil {
			t.Fatalf("read %s journal: %v", date, err)
		}
		if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 1 || !strings.Contains(lines[0], wantID) {
			t.Fatalf("%s journal = %q; want one line with %s", date, data, wantID)
		}
	}
}
