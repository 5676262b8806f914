package processors

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"clipCurator/config"
)

// LLMClient is the judgment collaborator boundary. Replies are expected to be
// a single JSON object but are validated defensively by every caller.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Available() bool
	Provider() string
}

// OpenAILLM wraps chat completions with rate limiting and a per-call timeout.
type OpenAILLM struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAILLM returns nil when no API credentials are configured.
func NewOpenAILLM(cfg *config.Config) *OpenAILLM {
	if !cfg.HasValidAPI() {
		return nil
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	perSecond := rate.Limit(float64(cfg.LLMRequestsPerMinute) / 60.0)
	return &OpenAILLM{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.ChatModel,
		limiter: rate.NewLimiter(perSecond, cfg.LLMRequestsPerMinute),
	}
}

func (c *OpenAILLM) Available() bool  { return c != nil && c.client != nil }
func (c *OpenAILLM) Provider() string { return "openai" }

func (c *OpenAILLM) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("llm client not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   800,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// MockLLM is a scriptable judgment collaborator for tests. Responses are
// consumed in order; the last one repeats. A set Err makes every call fail.
// Safe for the concurrent calls the curator makes.
type MockLLM struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     int
}

func (m *MockLLM) Available() bool  { return m != nil && m.Err == nil }
func (m *MockLLM) Provider() string { return "mock" }

func (m *MockLLM) Complete(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", fmt.Errorf("mock llm has no responses")
	}
	idx := m.Calls - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// extractJSONObject pulls the first balanced top-level JSON object out of an
// LLM reply, tolerating markdown code fences and surrounding prose.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	if fenced := strings.Index(content, "```"); fenced >= 0 {
		rest := content[fenced+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			content = rest[:end]
		} else {
			content = rest
		}
	}
	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}
	return ""
}
