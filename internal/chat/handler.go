// Package chat wires the Principal Resolver, Cache Store, Conversation
// State Manager, Continuation Detector, Supervisor Router, Agent
// Dispatcher, and Stream Multiplexer into the two client-facing endpoints
//.
package chat

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tellerdesk/internal/apierr"
	"github.com/wisbric/tellerdesk/internal/cache"
	"github.com/wisbric/tellerdesk/internal/continuation"
	"github.com/wisbric/tellerdesk/internal/conversation"
	"github.com/wisbric/tellerdesk/internal/dispatcher"
	"github.com/wisbric/tellerdesk/internal/httpserver"
	"github.com/wisbric/tellerdesk/internal/message"
	"github.com/wisbric/tellerdesk/internal/principal"
	"github.com/wisbric/tellerdesk/internal/router"
	"github.com/wisbric/tellerdesk/internal/stream"
	"github.com/wisbric/tellerdesk/internal/telemetry"
)

// AuditFunc records an audit event, shared with the components below it in
// the pipeline.
type AuditFunc func(customerID, eventType string, details map[string]any)

// Handler implements POST /chat and POST /cache/initialize.
type Handler struct {
	store         *cache.Store
	conversations *conversation.Manager
	router        *router.Router
	dispatcher    *dispatcher.Dispatcher
	pins          *router.PinTracker
	audit         AuditFunc
	logger        *slog.Logger
}

// New creates a Handler.
func New(store *cache.Store, conversations *conversation.Manager, r *router.Router, d *dispatcher.Dispatcher, pins *router.PinTracker, audit AuditFunc, logger *slog.Logger) *Handler {
	return &Handler{store: store, conversations: conversations, router: r, dispatcher: d, pins: pins, audit: audit, logger: logger}
}

// HandleChat implements POST /chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, apierr.Unauthenticated, "no principal in request context")
		return
	}

	var req message.ConversationRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	mux, err := stream.New(w, req.Stream, h.audit, h.logger, p.CustomerID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, apierr.BadRequest, err.Error())
		return
	}
	mux.Thinking(stream.StepAuth, "principal resolved", stream.StatusCompleted, nil)

	lastUser := req.LastUserMessage()
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	if entry, ok := h.continuationBypass(r.Context(), p, lastUser); ok {
		h.dispatchAndRespond(r.Context(), mux, p, req.Messages, entry.ThreadID, entry.AgentName, entry.AgentEndpoint, req.Stream, w)
		return
	}

	mux.Thinking(stream.StepRouting, "deciding route", stream.StatusInProgress, nil)
	outcome, err := h.router.Route(r.Context(), p, req)
	if err != nil {
		mux.Thinking(stream.StepRouting, err.Error(), stream.StatusFailed, nil)
		h.finish(mux, req.Stream, w, "Sorry, I could not determine how to handle that request.", threadID)
		return
	}
	mux.Thinking(stream.StepRouting, "route: "+outcome.Reason, stream.StatusCompleted, nil)

	if outcome.CacheServe {
		mux.Thinking(stream.StepCacheCheck, "served from cache", stream.StatusCompleted, nil)
		content := mux.StreamContent(outcome.CacheText)
		h.finish(mux, req.Stream, w, content, threadID)
		return
	}

	rewritten := make([]message.Message, len(req.Messages))
	copy(rewritten, req.Messages)
	if n := len(rewritten); n > 0 {
		rewritten[n-1].Content = outcome.Message
	}

	h.dispatchAndRespond(r.Context(), mux, p, rewritten, threadID, outcome.AgentName, outcome.AgentEndpoint, req.Stream, w)
}

// continuationBypass checks whether lastUser is a continuation of an
// active conversation; if so the router is skipped entirely and the turn
// routes straight back to the agent already handling the customer.
func (h *Handler) continuationBypass(ctx context.Context, p *principal.Principal, lastUser string) (conversation.Entry, bool) {
	if !continuation.IsContinuation(lastUser) {
		return conversation.Entry{}, false
	}
	entry, ok := h.conversations.Active(p.CustomerID)
	if !ok {
		return conversation.Entry{}, false
	}
	h.audit(p.CustomerID, "continuation_bypass", map[string]any{"agent": entry.AgentName})
	telemetry.RoutingDecisionsTotal.WithLabelValues("continuation_bypass").Inc()
	return entry, true
}

func (h *Handler) dispatchAndRespond(ctx context.Context, mux *stream.Multiplexer, p *principal.Principal, messages []message.Message, threadID, agentName, agentEndpoint string, streamMode bool, w http.ResponseWriter) {
	mux.Thinking(stream.StepDispatchStart, "invoking "+agentName, stream.StatusInProgress, nil)
	start := time.Now()

	resp, err := h.dispatcher.Dispatch(ctx, agentEndpoint, messages, threadID, p.CustomerID, p.Email, streamMode)
	duration := time.Since(start)
	telemetry.DispatchDuration.WithLabelValues(agentName, outcomeLabel(err)).Observe(duration.Seconds())

	if err != nil {
		mux.Thinking(stream.StepDispatchDone, err.Error(), stream.StatusFailed, &duration)
		h.audit(p.CustomerID, "dispatch_failed", map[string]any{"agent": agentName, "error": err.Error(), "thread_id": threadID})
		h.finish(mux, streamMode, w, dispatchFailureMessage(err), threadID)
		return
	}
	mux.Thinking(stream.StepDispatchDone, "response received", stream.StatusCompleted, &duration)

	if resp.WriteInvalidation {
		h.store.Invalidate(p.CustomerID)
		h.audit(p.CustomerID, "cache_invalidated", map[string]any{"agent": agentName, "thread_id": threadID})
	}
	if resp.EscalationStart {
		h.pins.Set(p.CustomerID)
	}
	if resp.EscalationResolve {
		h.pins.Clear(p.CustomerID)
	}

	h.conversations.Update(p.CustomerID, agentName, agentEndpoint, resp.ThreadID)

	content := mux.StreamContent(resp.Text)
	h.finish(mux, streamMode, w, content, resp.ThreadID)
}

func (h *Handler) finish(mux *stream.Multiplexer, streamMode bool, w http.ResponseWriter, content, threadID string) {
	body, err := mux.Finish(content, threadID)
	if err != nil {
		h.logger.Error("finishing response stream", "error", err)
		return
	}
	if !streamMode {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apierr.KindOf(err))
}

// dispatchFailureMessage turns a dispatch error into the plain-language
// terminal content shown to the customer when an agent call fails.
func dispatchFailureMessage(err error) string {
	switch apierr.KindOf(err) {
	case apierr.AgentTimeout:
		return "The request took too long to process. Please try again in a moment."
	case apierr.AgentUnavailable:
		return "We're unable to reach that service right now. Please try again shortly."
	default:
		return "Something went wrong while processing your request."
	}
}

// HandleCacheInitialize implements POST /cache/initialize.
func (h *Handler) HandleCacheInitialize(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, apierr.Unauthenticated, "no principal in request context")
		return
	}
	status := h.store.Initialize(r.Context(), p.CustomerID, p.Email)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": string(status)})
}
