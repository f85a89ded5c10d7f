package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wisbric/tellerdesk/internal/cache"
	"github.com/wisbric/tellerdesk/internal/catalog"
	"github.com/wisbric/tellerdesk/internal/conversation"
	"github.com/wisbric/tellerdesk/internal/dispatcher"
	"github.com/wisbric/tellerdesk/internal/principal"
	"github.com/wisbric/tellerdesk/internal/router"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopAudit(string, string, map[string]any) {}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.json")
	body := `{
		"account_agent": {"base_url": "ACCOUNT_URL", "category": "account", "may_use_cache": true},
		"transaction_agent": {"base_url": "http://t:9002", "category": "transaction", "may_use_cache": true},
		"payment_agent": {"base_url": "http://p:9003", "category": "payment", "may_use_cache": false},
		"money_coach_agent": {"base_url": "http://m:9005", "category": "money-coach", "may_use_cache": false},
		"escalation_agent": {"base_url": "http://e:9004", "category": "escalation", "may_use_cache": false}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing catalog fixture: %v", err)
	}
	cat, err := catalog.Load(path)
	if err != nil {
		t.Fatalf("loading catalog fixture: %v", err)
	}
	return cat
}

func newHandler(t *testing.T, cat *catalog.Catalog, agentServerURL string) (*Handler, *cache.Store) {
	t.Helper()
	if agentServerURL != "" {
		// Patch the account agent's base URL to point at the stub server.
		patched := filepath.Join(t.TempDir(), "agents.json")
		body := `{
			"account_agent": {"base_url": "` + agentServerURL + `", "category": "account", "may_use_cache": true},
			"transaction_agent": {"base_url": "http://t:9002", "category": "transaction", "may_use_cache": true},
			"payment_agent": {"base_url": "http://p:9003", "category": "payment", "may_use_cache": false},
			"money_coach_agent": {"base_url": "http://m:9005", "category": "money-coach", "may_use_cache": false},
			"escalation_agent": {"base_url": "http://e:9004", "category": "escalation", "may_use_cache": false}
		}`
		if err := os.WriteFile(patched, []byte(body), 0o644); err != nil {
			t.Fatalf("writing patched catalog: %v", err)
		}
		c, err := catalog.Load(patched)
		if err != nil {
			t.Fatalf("loading patched catalog: %v", err)
		}
		cat = c
	}

	store, err := cache.NewStore(t.TempDir(), testLogger(), func(ctx context.Context, customerID, email string) (cache.Bundle, error) {
		return cache.Bundle{}, nil
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conv := conversation.NewManager()
	r := router.New(store, cat, router.NewClassifier("", ""), router.NewPinTracker(), noopAudit, testLogger())
	d := dispatcher.New()
	h := New(store, conv, r, d, router.NewPinTracker(), noopAudit, testLogger())
	return h, store
}

func withPrincipal(req *http.Request, p *principal.Principal) *http.Request {
	return req.WithContext(principal.NewContext(req.Context(), p))
}

func TestHandleChat_NonStreamDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "please help with your money situation right away", "thread_id": "t-99"})
	}))
	defer srv.Close()

	h, _ := newHandler(t, nil, srv.URL)

	body := strings.NewReader(`{"messages":[{"role":"user","content":"please help with my money situation"}],"stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req = withPrincipal(req, &principal.Principal{CustomerID: "C001", Email: "alice@ex"})
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var terminal struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &terminal); err != nil {
		t.Fatalf("unmarshaling response: %v, body=%s", err, rec.Body.String())
	}
	if terminal.ThreadID != "t-99" {
		t.Fatalf("expected thread id t-99, got %s", terminal.ThreadID)
	}
	if !strings.Contains(terminal.Choices[0].Message.Content, "money situation") {
		t.Fatalf("unexpected content: %q", terminal.Choices[0].Message.Content)
	}
}

func TestHandleChat_StreamModeEndsWithDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "please help with your money situation right away"})
	}))
	defer srv.Close()

	h, _ := newHandler(t, nil, srv.URL)

	body := strings.NewReader(`{"messages":[{"role":"user","content":"please help with my money situation"}],"stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req = withPrincipal(req, &principal.Principal{CustomerID: "C002", Email: "bob@ex"})
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var lastLine string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			lastLine = strings.TrimPrefix(line, "data: ")
		}
	}
	if lastLine != "[DONE]" {
		t.Fatalf("expected stream to end with [DONE], got %q", lastLine)
	}
}

func TestHandleChat_MissingPrincipalRejected(t *testing.T) {
	h, _ := newHandler(t, newTestCatalog(t), "")

	body := strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"stream":false}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleChat_DispatchFailureStillEmitsDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, _ := newHandler(t, nil, srv.URL)

	body := strings.NewReader(`{"messages":[{"role":"user","content":"please help with my money situation"}],"stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req = withPrincipal(req, &principal.Principal{CustomerID: "C003", Email: "carol@ex"})
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if !strings.Contains(rec.Body.String(), "[DONE]") {
		t.Fatal("expected [DONE] sentinel even on dispatch failure")
	}
	if !strings.Contains(rec.Body.String(), "failed") {
		t.Fatal("expected a failed thinking event in the stream")
	}
}

func TestHandleCacheInitialize(t *testing.T) {
	h, _ := newHandler(t, newTestCatalog(t), "")

	req := httptest.NewRequest(http.MethodPost, "/cache/initialize", nil)
	req = withPrincipal(req, &principal.Principal{CustomerID: "C004", Email: "dave@ex"})
	rec := httptest.NewRecorder()

	h.HandleCacheInitialize(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("expected status ok on first initialize, got %q", out["status"])
	}
}
