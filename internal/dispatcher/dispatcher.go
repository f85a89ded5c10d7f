// Package dispatcher implements the Agent Dispatcher (C6): a single HTTP
// invocation of the selected agent, with write-sentinel detection that
// triggers cache invalidation.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wisbric/tellerdesk/internal/apierr"
	"github.com/wisbric/tellerdesk/internal/message"
)

// Timeout is the hard agent dispatch deadline.
const Timeout = 300 * time.Second

// writeSentinels are fixed strings inside an agent response indicating a
// committed write that must invalidate the customer's cache.
var writeSentinels = []string{"TRANSFER COMPLETED", "TICKET CREATED"}

// escalationStartSentinel and escalationResolveSentinel drive the
// Supervisor Router's escalation pin — see DESIGN.md Open Questions for
// the rationale behind these two fixed markers.
const (
	escalationStartSentinel   = "ESCALATION STARTED"
	escalationResolveSentinel = "ESCALATION RESOLVED"
)

// invokeRequest is the JSON body sent to {agent_endpoint}/invoke.
type invokeRequest struct {
	Messages   []message.Message `json:"messages"`
	ThreadID   string             `json:"thread_id"`
	CustomerID string             `json:"customer_id"`
	UserEmail  string             `json:"user_email"`
	Stream     bool               `json:"stream"`
}

// invokeResponse is the JSON body returned by the agent.
type invokeResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Response is what Dispatch returns to its caller.
type Response struct {
	Text              string
	ThreadID          string
	WriteInvalidation bool
	EscalationStart   bool
	EscalationResolve bool
}

// Dispatcher issues agent invocations.
type Dispatcher struct {
	http *http.Client
}

// New creates a Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{http: &http.Client{Timeout: Timeout}}
}

// Dispatch sends a normalized invocation to agentEndpoint and returns the
// agent's textual response. No automatic retries — a
// transport failure or malformed response surfaces as a distinct apierr
// kind so the caller can decide how to present it.
func (d *Dispatcher) Dispatch(ctx context.Context, agentEndpoint string, messages []message.Message, threadID, customerID, email string, stream bool) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	body, err := json.Marshal(invokeRequest{
		Messages:   messages,
		ThreadID:   threadID,
		CustomerID: customerID,
		UserEmail:  email,
		Stream:     stream,
	})
	if err != nil {
		return Response{}, apierr.Wrap(apierr.Internal, "marshaling agent invocation", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(agentEndpoint, "/")+"/invoke", bytes.NewReader(body))
	if err != nil {
		return Response{}, apierr.Wrap(apierr.Internal, "building agent request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, apierr.Wrap(apierr.AgentTimeout, "agent dispatch timed out", err)
		}
		return Response{}, apierr.Wrap(apierr.AgentUnavailable, "agent unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Response{}, apierr.New(apierr.AgentUnavailable, fmt.Sprintf("agent returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Response{}, apierr.New(apierr.AgentUnavailable, fmt.Sprintf("agent rejected invocation with status %d", resp.StatusCode))
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, apierr.Wrap(apierr.AgentUnavailable, "decoding agent response", err)
	}

	result := Response{Text: out.Response, ThreadID: out.ThreadID}
	if result.ThreadID == "" {
		result.ThreadID = threadID
	}

	for _, s := range writeSentinels {
		if strings.Contains(out.Response, s) {
			result.WriteInvalidation = true
			break
		}
	}
	if strings.Contains(out.Response, escalationStartSentinel) {
		result.EscalationStart = true
	}
	if strings.Contains(out.Response, escalationResolveSentinel) {
		result.EscalationResolve = true
	}

	return result, nil
}
