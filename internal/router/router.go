// Package router implements the Supervisor Router (C5): cache short-circuit,
// then keyword classification, then an LLM fallback, with escalation-pin
// precedence over all three.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/wisbric/tellerdesk/internal/cache"
	"github.com/wisbric/tellerdesk/internal/catalog"
	"github.com/wisbric/tellerdesk/internal/message"
	"github.com/wisbric/tellerdesk/internal/principal"
	"github.com/wisbric/tellerdesk/internal/telemetry"
)

// AuditFunc records a routing_decision audit entry.
type AuditFunc func(customerID, eventType string, details map[string]any)

// Outcome is the result of one routing decision.
type Outcome struct {
	CacheServe   bool
	CacheText    string
	AgentName    string
	AgentEndpoint string
	Message      string // the (possibly rewritten) user message to forward
	Reason       string
}

// PinTracker holds the escalation-pin state. A pin is set
// when an agent begins an escalation workflow and cleared when it resolves;
// see DESIGN.md for how the dispatcher drives Set/Clear.
type PinTracker struct {
	mu   sync.Mutex
	pins map[string]bool
}

// NewPinTracker creates an empty PinTracker.
func NewPinTracker() *PinTracker {
	return &PinTracker{pins: make(map[string]bool)}
}

// Set marks customerID as having an active escalation pin.
func (t *PinTracker) Set(customerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pins[customerID] = true
}

// Clear removes any escalation pin for customerID.
func (t *PinTracker) Clear(customerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pins, customerID)
}

// Active reports whether customerID has an active escalation pin.
func (t *PinTracker) Active(customerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pins[customerID]
}

// Router is the Supervisor Router (C5).
type Router struct {
	store      *cache.Store
	catalog    *catalog.Catalog
	classifier *Classifier
	pins       *PinTracker
	audit      AuditFunc
	logger     *slog.Logger
}

// New creates a Router.
func New(store *cache.Store, cat *catalog.Catalog, classifier *Classifier, pins *PinTracker, audit AuditFunc, logger *slog.Logger) *Router {
	return &Router{store: store, catalog: cat, classifier: classifier, pins: pins, audit: audit, logger: logger}
}

// Route decides an outcome for req against p, following an ordered
// pipeline: escalation pin, cache short-circuit, keyword classifier, LLM
// fallback.
func (r *Router) Route(ctx context.Context, p *principal.Principal, req message.ConversationRequest) (Outcome, error) {
	lastUser := req.LastUserMessage()

	// Step 1: escalation pin.
	if r.pins.Active(p.CustomerID) {
		agent, ok := r.catalog.ByCategory(CategoryEscalation)
		if ok {
			r.audit(p.CustomerID, "routing_decision", map[string]any{"reason": "escalation_pin", "category": CategoryEscalation})
			telemetry.RoutingDecisionsTotal.WithLabelValues("escalation_pin").Inc()
			return Outcome{AgentName: agent.Name, AgentEndpoint: agent.BaseURL, Message: lastUser, Reason: "escalation_pin"}, nil
		}
	}

	// Step 2: cache short-circuit.
	if outcome, ok := r.tryCacheShortCircuit(ctx, p, lastUser); ok {
		return outcome, nil
	}

	// Step 3: keyword classifier.
	if category, ok := r.classifyByKeyword(lastUser); ok {
		return r.dispatchOutcome(p, category, lastUser, "keyword")
	}

	// Step 4: LLM classifier fallback.
	category, err := r.classifier.Classify(ctx, lastUser)
	if err != nil {
		r.logger.Warn("llm classifier unavailable, defaulting to account", "error", err, "customer_id", p.CustomerID)
		r.audit(p.CustomerID, "routing_decision", map[string]any{"reason": "llm_default", "error": err.Error()})
		return r.dispatchOutcome(p, CategoryAccount, lastUser, "llm_default")
	}
	return r.dispatchOutcome(p, category, lastUser, "llm_"+category)
}

func (r *Router) dispatchOutcome(p *principal.Principal, category, lastUser, reason string) (Outcome, error) {
	agent, ok := r.catalog.ByCategory(category)
	if !ok {
		return Outcome{}, fmt.Errorf("no agent registered for category %q", category)
	}

	forwarded := lastUser
	if category == CategoryPayment {
		// Message rewriting: prepend the principal's email so the payment
		// agent can identify the sender without a separate principal
		// channel.
		forwarded = fmt.Sprintf("my username is %s, %s", p.Email, lastUser)
	}

	r.audit(p.CustomerID, "routing_decision", map[string]any{"reason": reason, "category": category})
	telemetry.RoutingDecisionsTotal.WithLabelValues(reason).Inc()

	return Outcome{AgentName: agent.Name, AgentEndpoint: agent.BaseURL, Message: forwarded, Reason: reason}, nil
}

// classifyByKeyword scores each category by summing weighted keyword
// occurrences in the message and commits only if the top score is >= 2 and
// strictly greater than the runner-up.
func (r *Router) classifyByKeyword(text string) (string, bool) {
	lower := strings.ToLower(text)

	scores := make(map[string]int, len(categoryKeywords))
	for category, keywords := range categoryKeywords {
		score := 0
		for kw, weight := range keywords {
			score += weight * strings.Count(lower, kw)
		}
		scores[category] = score
	}

	topCategory, topScore, runnerUpScore := "", 0, 0
	for category, score := range scores {
		switch {
		case score > topScore:
			runnerUpScore = topScore
			topScore = score
			topCategory = category
		case score > runnerUpScore:
			runnerUpScore = score
		}
	}

	if topScore >= minTopScore && topScore > runnerUpScore {
		return topCategory, true
	}
	return "", false
}

// tryCacheShortCircuit matches the last user message against the cacheable
// intent keyword lists. Write-intent messages never
// short-circuit, regardless of keyword overlap.
func (r *Router) tryCacheShortCircuit(ctx context.Context, p *principal.Principal, lastUser string) (Outcome, bool) {
	lower := strings.ToLower(lastUser)
	for _, kw := range writeIntentKeywords {
		if strings.Contains(lower, kw) {
			return Outcome{}, false
		}
	}

	intent, ok := matchCacheableIntent(lower)
	if !ok {
		return Outcome{}, false
	}

	bundle, ok := r.store.Get(ctx, p.CustomerID)
	if !ok {
		return Outcome{}, false
	}

	text := synthesize(intent, bundle)
	r.audit(p.CustomerID, "cache_hit", map[string]any{"intent": string(intent)})
	telemetry.RoutingDecisionsTotal.WithLabelValues("cache").Inc()

	return Outcome{CacheServe: true, CacheText: text, Reason: "cache"}, true
}

func matchCacheableIntent(lower string) (cacheableIntent, bool) {
	for intent, keywords := range cacheableKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return intent, true
			}
		}
	}
	return "", false
}

// synthesize builds a plain-language response directly from the bundle,
// without dispatching to an agent.
func synthesize(intent cacheableIntent, b cache.Bundle) string {
	switch intent {
	case intentBalance:
		return fmt.Sprintf("Your available balance is %s %s.", b.Data.PrimaryBalance.Amount, b.Data.PrimaryBalance.Currency)
	case intentRecentTransactions:
		if len(b.Data.LastNTransactions) == 0 {
			return "You have no recent transactions on file."
		}
		var sb strings.Builder
		sb.WriteString("Here are your recent transactions:\n")
		for _, t := range b.Data.LastNTransactions {
			sb.WriteString(fmt.Sprintf("- %s: %s %s (%s)\n", t.Timestamp, t.Amount.Amount, t.Amount.Currency, t.Description))
		}
		return sb.String()
	case intentLimits:
		return fmt.Sprintf("Your per-transaction limit is %s %s, daily limit is %s %s, and you have %s %s remaining today.",
			b.Data.Limits.PerTransaction.Amount, b.Data.Limits.PerTransaction.Currency,
			b.Data.Limits.Daily.Amount, b.Data.Limits.Daily.Currency,
			b.Data.Limits.RemainingToday.Amount, b.Data.Limits.RemainingToday.Currency)
	case intentAccountDetails:
		if len(b.Data.Accounts) == 0 {
			return "No account details are on file."
		}
		a := b.Data.Accounts[0]
		return fmt.Sprintf("Your primary account %s is held by %s with a balance of %s %s.", a.Number, a.HolderName, a.Balance.Amount, a.Balance.Currency)
	default:
		return ""
	}
}
