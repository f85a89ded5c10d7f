package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopAudit(string, string, map[string]any) {}

// flushRecorder adds http.Flusher to httptest.ResponseRecorder, which does
// not implement it on its own.
type flushRecorder struct {
	*httptest.ResponseRecorder
}

func (f flushRecorder) Flush() {}

func newRecorder() flushRecorder {
	return flushRecorder{httptest.NewRecorder()}
}

func TestMultiplexer_StreamOrderingAndTerminal(t *testing.T) {
	rec := newRecorder()
	m, err := New(rec, true, noopAudit, testLogger(), "C001")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.Thinking(StepAuth, "resolved principal", StatusCompleted, nil)
	m.Thinking(StepRouting, "routing decision", StatusInProgress, nil)
	m.Thinking(StepRouting, "routed to account agent", StatusCompleted, nil)
	deduped := m.StreamContent("Your balance is 100 THB.")
	if _, err := m.Finish(deduped, "thread-1"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	lines := scanDataLines(t, rec.Body.String())
	if lines[len(lines)-1] != "[DONE]" {
		t.Fatalf("expected stream to end with [DONE], got %q", lines[len(lines)-1])
	}

	var deltas []string
	var terminalContent, threadID string
	for _, line := range lines[:len(lines)-1] {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			t.Fatalf("unmarshaling event %q: %v", line, err)
		}
		if _, ok := probe["type"]; ok {
			continue // thinking event
		}
		var ev terminalEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("unmarshaling event %q: %v", line, err)
		}
		if ev.ThreadID != "" {
			terminalContent = ev.Choices[0].Message.Content
			threadID = ev.ThreadID
			continue
		}
		deltas = append(deltas, ev.Choices[0].Delta.Content)
	}

	if strings.Join(deltas, "") != "Your balance is 100 THB." {
		t.Fatalf("delta concatenation mismatch: %q", strings.Join(deltas, ""))
	}
	if terminalContent != "Your balance is 100 THB." {
		t.Fatalf("terminal content mismatch: %q", terminalContent)
	}
	if threadID != "thread-1" {
		t.Fatalf("expected threadId thread-1, got %q", threadID)
	}
}

func TestMultiplexer_NonStreamModeReturnsTerminalOnly(t *testing.T) {
	rec := newRecorder()
	m, err := New(rec, false, noopAudit, testLogger(), "C001")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Thinking(StepAuth, "resolved principal", StatusCompleted, nil)
	body, err := m.Finish("hello", "thread-9")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("non-stream mode must not write to the response writer directly, got %q", rec.Body.String())
	}
	var ev terminalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		t.Fatalf("unmarshaling terminal body: %v", err)
	}
	if ev.Choices[0].Message.Content != "hello" || ev.ThreadID != "thread-9" {
		t.Fatalf("unexpected terminal body: %+v", ev)
	}
}

func TestMultiplexer_ThinkingDroppedUnderBufferCap(t *testing.T) {
	rec := newRecorder()
	m, err := New(rec, true, noopAudit, testLogger(), "C001")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.maxBufferBytes = 10 // force immediate overflow

	var dropped []string
	m.audit = func(customerID, eventType string, details map[string]any) {
		if eventType == "thinking_dropped" {
			dropped = append(dropped, details["step"].(string))
		}
	}

	m.Thinking(StepAuth, "a long enough message to overflow the tiny cap", StatusCompleted, nil)
	m.Thinking(StepRouting, "another long enough message to overflow", StatusCompleted, nil)
	deduped := m.StreamContent("still delivered")
	if _, err := m.Finish(deduped, "thread-1"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if len(dropped) != 2 {
		t.Fatalf("expected both thinking events dropped, got %v", dropped)
	}

	lines := scanDataLines(t, rec.Body.String())
	foundDelta := false
	for _, line := range lines {
		if strings.Contains(line, "still delivered") {
			foundDelta = true
		}
	}
	if !foundDelta {
		t.Fatal("delta content must never be dropped by the buffer cap")
	}
}

func TestDedupeTables_KeepsFirstElidesRest(t *testing.T) {
	content := "intro <table><tr><td>1</td></tr></table> middle <table><tr><td>2</td></tr></table> end"
	got := dedupeTables(content)
	if strings.Count(got, "<table") != 1 {
		t.Fatalf("expected exactly one surviving table, got %q", got)
	}
	if !strings.Contains(got, "intro") || !strings.Contains(got, "middle") || !strings.Contains(got, "end") {
		t.Fatalf("surrounding text must be preserved, got %q", got)
	}
	if !strings.Contains(got, "<td>1</td>") {
		t.Fatalf("first table body must survive, got %q", got)
	}
	if strings.Contains(got, "<td>2</td>") {
		t.Fatalf("second table body must be elided, got %q", got)
	}
}

func TestDedupeTables_SingleTableUnchanged(t *testing.T) {
	content := "only one <table><tr><td>x</td></tr></table> here"
	if got := dedupeTables(content); got != content {
		t.Fatalf("single-table content must pass through unchanged, got %q", got)
	}
}

func TestChunkContent_ConcatenationEqualsOriginal(t *testing.T) {
	original := strings.Repeat("abcdefgh ", 20)
	chunks := chunkContent(original)
	if strings.Join(chunks, "") != original {
		t.Fatal("chunk concatenation must equal the original content")
	}
	for _, c := range chunks {
		if len([]rune(c)) > chunkRunes {
			t.Fatalf("chunk exceeds max rune size: %q", c)
		}
	}
}

func scanDataLines(t *testing.T, body string) []string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(body))
	var out []string
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "data: "); ok {
			out = append(out, after)
		}
	}
	return out
}
