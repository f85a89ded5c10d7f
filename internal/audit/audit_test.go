package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriter_LogFlushesToDailyFile(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root, testLogger())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	w.Log("C001", "cache_hit", map[string]any{"intent": "balance"})
	w.Log("C002", "routing_decision", map[string]any{"reason": "keyword", "thread_id": "t-1"})

	cancel()
	w.Close()

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(root, "orchestrator-"+date+".ndjson")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit file: %v", err)
	}
	defer f.Close()

	var records []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decoding record: %v", err)
		}
		records = append(records, r)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(records), records)
	}
	if records[0].CustomerID != "C001" || records[0].EventType != "cache_hit" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].ThreadID != "t-1" {
		t.Fatalf("expected thread_id to be lifted from details, got %+v", records[1])
	}
}

func TestWriter_DropsWhenBufferFull(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root, testLogger())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	// Deliberately never Start the flush loop so the channel fills up.
	for i := 0; i < bufferSize; i++ {
		w.Log("C001", "cache_hit", nil)
	}
	if len(w.entries) != bufferSize {
		t.Fatalf("expected buffer full at %d, got %d", bufferSize, len(w.entries))
	}
	w.Log("C001", "cache_hit", nil) // must not block or panic
}
