package conversation

import (
	"testing"
	"time"
)

func TestManager_UpdateThenActive(t *testing.T) {
	m := NewManager()
	m.Update("C001", "payment", "http://p:9000", "thread_C001")

	e, ok := m.Active("C001")
	if !ok {
		t.Fatal("expected active entry")
	}
	if e.AgentName != "payment" || e.AgentEndpoint != "http://p:9000" || e.ThreadID != "thread_C001" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.MessageCount != 1 {
		t.Fatalf("expected message count 1, got %d", e.MessageCount)
	}
}

func TestManager_ActiveFalseWhenAbsent(t *testing.T) {
	m := NewManager()
	if _, ok := m.Active("C999"); ok {
		t.Fatal("expected no entry for unknown customer")
	}
}

func TestManager_ExpiresAfterTTL(t *testing.T) {
	m := NewManager()
	m.mu.Lock()
	m.entries["C001"] = Entry{
		CustomerID:   "C001",
		AgentName:    "payment",
		LastActivity: time.Now().Add(-(TTL + time.Second)),
	}
	m.mu.Unlock()

	if _, ok := m.Active("C001"); ok {
		t.Fatal("expected expired entry to be inactive")
	}

	// R2: after expiry, the entry is gone entirely.
	m.mu.Lock()
	_, present := m.entries["C001"]
	m.mu.Unlock()
	if present {
		t.Fatal("expected expired entry to be deleted")
	}
}

func TestManager_Clear(t *testing.T) {
	m := NewManager()
	m.Update("C001", "account", "http://a:9001", "thread_1")
	m.Clear("C001")

	if _, ok := m.Active("C001"); ok {
		t.Fatal("expected no entry after Clear")
	}
}

func TestManager_UpdateIsLastWriterWins(t *testing.T) {
	m := NewManager()
	m.Update("C001", "account", "http://a:9001", "thread_1")
	m.Update("C001", "payment", "http://p:9000", "thread_2")

	e, ok := m.Active("C001")
	if !ok {
		t.Fatal("expected active entry")
	}
	if e.AgentName != "payment" {
		t.Fatalf("expected last writer (payment) to win, got %s", e.AgentName)
	}
	if e.MessageCount != 2 {
		t.Fatalf("expected message count 2, got %d", e.MessageCount)
	}
}
