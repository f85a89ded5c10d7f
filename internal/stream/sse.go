package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/wisbric/tellerdesk/internal/telemetry"
)

// DefaultMaxBufferBytes bounds the bytes of events emitted per request; once a
// thinking event would exceed it, that event is dropped. Delta events count
// toward the total but are never dropped.
const DefaultMaxBufferBytes = 64 * 1024

// chunkRunes is the size, in runes, of each content delta the multiplexer
// emits when chunking a dispatched agent's full response text.
const chunkRunes = 64

// AuditFunc records a multiplexer event.
type AuditFunc func(customerID, eventType string, details map[string]any)

// Multiplexer turns pipeline milestones and response content into an ordered
// SSE stream, or — when the caller asked for stream=false — writes nothing
// and has Finish return the terminal event as a single JSON body.
type Multiplexer struct {
	w              http.ResponseWriter
	flusher        http.Flusher
	streamMode     bool
	audit          AuditFunc
	logger         *slog.Logger
	customerID     string
	maxBufferBytes int
	bufferedBytes  int
}

// New creates a Multiplexer. In stream mode it writes SSE headers and the
// initial flush immediately; in non-stream mode nothing is written to w
// until Finish.
func New(w http.ResponseWriter, streamMode bool, audit AuditFunc, logger *slog.Logger, customerID string) (*Multiplexer, error) {
	m := &Multiplexer{
		w:              w,
		streamMode:     streamMode,
		audit:          audit,
		logger:         logger,
		customerID:     customerID,
		maxBufferBytes: DefaultMaxBufferBytes,
	}
	if streamMode {
		flusher, ok := w.(http.Flusher)
		if !ok {
			return nil, fmt.Errorf("stream: response writer does not support flushing")
		}
		m.flusher = flusher
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		m.flusher.Flush()
	}
	return m, nil
}

// Thinking emits a pipeline-milestone trace event, subject to the buffer
// cap: once the cap would be exceeded, thinking events are dropped (never
// delta events) and the drop is audited.
func (m *Multiplexer) Thinking(step, message string, status ThinkingStatus, duration *time.Duration) {
	ev := newThinking(step, message, status, duration)
	body, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("marshaling thinking event", "error", err, "step", step)
		return
	}
	if m.bufferedBytes+len(body) > m.maxBufferBytes {
		m.audit(m.customerID, "thinking_dropped", map[string]any{"step": step, "status": string(status)})
		telemetry.ThinkingEventsDroppedTotal.Inc()
		return
	}
	m.write(body)
}

// StreamContent deduplicates any repeated HTML table, chunks the result into ordered delta
// events, and returns the deduped text so the caller can pass the identical
// string to Finish — preserving invariant I6 (delta concatenation equals
// terminal content).
func (m *Multiplexer) StreamContent(content string) string {
	deduped := dedupeTables(content)
	for _, chunk := range chunkContent(deduped) {
		m.delta(chunk)
	}
	return deduped
}

func (m *Multiplexer) delta(content string) {
	ev := newDelta(content)
	body, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("marshaling delta event", "error", err)
		return
	}
	m.write(body)
}

// Finish emits the terminal event (and, in stream mode, the [DONE]
// sentinel). In non-stream mode it returns the terminal event's JSON body
// for the caller to write as the whole HTTP response.
func (m *Multiplexer) Finish(content, threadID string) ([]byte, error) {
	body, err := json.Marshal(newTerminal(content, threadID))
	if err != nil {
		return nil, fmt.Errorf("marshaling terminal event: %w", err)
	}
	if !m.streamMode {
		return body, nil
	}
	fmt.Fprintf(m.w, "data: %s\n\n", body)
	fmt.Fprint(m.w, "data: [DONE]\n\n")
	m.flusher.Flush()
	return nil, nil
}

func (m *Multiplexer) write(body []byte) {
	m.bufferedBytes += len(body)
	if !m.streamMode {
		return
	}
	fmt.Fprintf(m.w, "data: %s\n\n", body)
	m.flusher.Flush()
}

var tableRE = regexp.MustCompile(`(?is)<table.*?</table>`)

// dedupeTables keeps the first HTML table in content verbatim and elides the
// body of every subsequent one, leaving surrounding text intact.
func dedupeTables(content string) string {
	matches := tableRE.FindAllStringIndex(content, -1)
	if len(matches) <= 1 {
		return content
	}
	var b strings.Builder
	cursor := 0
	for i, m := range matches {
		if i == 0 {
			b.WriteString(content[cursor:m[1]])
			cursor = m[1]
			continue
		}
		b.WriteString(content[cursor:m[0]])
		cursor = m[1]
	}
	b.WriteString(content[cursor:])
	return b.String()
}

// chunkContent splits content into non-overlapping, order-preserving pieces
// of at most chunkRunes runes each.
func chunkContent(content string) []string {
	if content == "" {
		return nil
	}
	runes := []rune(content)
	chunks := make([]string, 0, len(runes)/chunkRunes+1)
	for i := 0; i < len(runes); i += chunkRunes {
		end := i + chunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
