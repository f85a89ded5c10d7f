package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ClassifierTimeout bounds the LLM fallback call.
const ClassifierTimeout = 3 * time.Second

const classifierPrompt = `Classify the user's banking request into exactly one category. ` +
	`Respond with only the category token, nothing else. ` +
	`Categories: account, transaction, payment, product-info, money-coach, escalation.`

var validCategories = map[string]bool{
	CategoryAccount:     true,
	CategoryTransaction: true,
	CategoryPayment:     true,
	CategoryProductInfo: true,
	CategoryMoneyCoach:  true,
	CategoryEscalation:  true,
}

// Classifier issues one call to a small text model with a fixed prompt that
// must emit exactly one category token.
type Classifier struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewClassifier creates a Classifier. If url is empty, Classify always
// returns an error so the router falls back to the account category.
func NewClassifier(url, apiKey string) *Classifier {
	return &Classifier{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: ClassifierTimeout},
	}
}

type classifyRequest struct {
	Prompt      string `json:"prompt"`
	Message     string `json:"message"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type classifyResponse struct {
	Category string `json:"category"`
}

// Classify returns the winning category, or an error on timeout, transport
// failure, or a malformed/unrecognized response — in every such case the
// caller defaults to CategoryAccount.
func (c *Classifier) Classify(ctx context.Context, message string) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("llm classifier not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, ClassifierTimeout)
	defer cancel()

	reqBody, err := json.Marshal(classifyRequest{
		Prompt:      classifierPrompt,
		Message:     message,
		Temperature: 0,
		MaxTokens:   20,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("building classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling llm classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm classifier returned status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding classifier response: %w", err)
	}

	label := strings.ToLower(strings.TrimSpace(out.Category))
	if !validCategories[label] {
		return "", fmt.Errorf("unrecognized category label %q", label)
	}
	return label, nil
}
