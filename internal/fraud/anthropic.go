package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const (
	defaultAdvisorURL       = "https://api.anthropic.com"
	defaultAdvisorMaxTokens = 512
	anthropicVersion        = "2023-06-01"
)

type AnthropicConfig struct {
	APIURL     string
	APIKey     string
	Model      string
	MaxRetries int
	HTTPClient *http.Client
}

// AnthropicAdvisor asks a hosted language model for a structured fraud opinion.
// Calls go through a retry policy and a circuit breaker.
type AnthropicAdvisor struct {
	client   *http.Client
	apiURL   string
	apiKey   string
	model    string
	executor failsafe.Executor[*http.Response]
}

func NewAnthropicAdvisor(cfg AnthropicConfig) *AnthropicAdvisor {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAdvisorURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(retries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool {
			return shouldRetry(resp, err)
		}).
		OnRetryScheduled(func(e failsafe.ExecutionScheduledEvent[*http.Response]) {
			discard(e.LastResult())
		}).
		ReturnLastFailure().
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode >= 500)
		}).
		Build()

	return &AnthropicAdvisor{
		client:   client,
		apiURL:   apiURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		executor: failsafe.With[*http.Response](retry, breaker),
	}
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// discard drains a response superseded by another attempt so its connection
// can be reused. The final response is left for the caller to read.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

const advisorSystemPrompt = "You review cash-back transactions for fraud. " +
	"Reply with a single JSON object with the keys risk_score (integer 0-100), " +
	"fraud_indicators (array of short snake_case strings), confidence (number 0-1) " +
	"and explanation (one sentence). Do not add any other text."

func (a *AnthropicAdvisor) Analyze(ctx context.Context, tx Transaction, priorPatterns []Pattern) (Advice, error) {
	if a.model == "" {
		return Advice{}, errors.New("advisor: model is required")
	}

	prompt, err := json.Marshal(map[string]any{
		"transaction":    tx,
		"prior_patterns": patternStrings(priorPatterns),
	})
	if err != nil {
		return Advice{}, fmt.Errorf("advisor: marshal prompt: %w", err)
	}
	payload, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: defaultAdvisorMaxTokens,
		System:    advisorSystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: string(prompt)}},
	})
	if err != nil {
		return Advice{}, fmt.Errorf("advisor: marshal request: %w", err)
	}

	resp, err := a.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/v1/messages", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Anthropic-Version", anthropicVersion)
		if a.apiKey != "" {
			req.Header.Set("X-API-Key", a.apiKey)
		}
		return a.client.Do(req)
	})
	if err != nil {
		discard(resp)
		return Advice{}, fmt.Errorf("advisor: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Advice{}, fmt.Errorf("advisor: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Advice{}, fmt.Errorf("advisor: decode response: %w", err)
	}
	for _, block := range decoded.Content {
		if block.Type != "text" {
			continue
		}
		return parseAdvice(block.Text)
	}
	return Advice{}, errors.New("advisor: response has no text content")
}

// parseAdvice extracts the JSON object from the model's text reply.
func parseAdvice(text string) (Advice, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Advice{}, errors.New("advisor: no JSON object in reply")
	}
	var advice Advice
	if err := json.Unmarshal([]byte(text[start:end+1]), &advice); err != nil {
		return Advice{}, fmt.Errorf("advisor: invalid JSON reply: %w", err)
	}
	if advice.Indicators == nil {
		advice.Indicators = []string{}
	}
	if err := advice.validate(); err != nil {
		return Advice{}, fmt.Errorf("advisor: %w", err)
	}
	return advice, nil
}
