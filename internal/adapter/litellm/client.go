// Package litellm implements the llm port against a LiteLLM proxy.
// All model traffic goes through the proxy's OpenAI-compatible
// chat-completions API, so provider routing, retries across vendors,
// and per-call cost accounting live in one place.
package litellm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/consilium-health/consilium/internal/port/llm"
	"github.com/consilium-health/consilium/internal/resilience"
)

const costHeader = "X-Litellm-Response-Cost"

// Client talks to the LiteLLM proxy.
type Client struct {
	baseURL    string
	masterKey  string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ llm.Invoker = (*Client)(nil)

// NewClient creates a LiteLLM client. timeout bounds each whole call,
// including streaming reads.
func NewClient(baseURL, masterKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		masterKey: masterKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
}

type chatChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

// Invoke runs one chat completion to completion.
func (c *Client) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    toChatMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var out *llm.Response
	call := func() error {
		resp, err := c.post(ctx, "/chat/completions", body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		var parsed chatResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("unmarshal chat response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("litellm returned no choices for model %s", req.Model)
		}

		out = &llm.Response{
			Content: parsed.Choices[0].Message.Content,
			Model:   parsed.Model,
		}
		out.Usage.PromptTokens = parsed.Usage.PromptTokens
		out.Usage.CompletionTokens = parsed.Usage.CompletionTokens
		out.Usage.CostUSD = parseCost(resp.Header.Get(costHeader))
		return nil
	}

	if err := c.execute(call); err != nil {
		return nil, err
	}
	return out, nil
}

// InvokeStream runs one chat completion as a server-sent-event stream,
// delivering text fragments to emit as they arrive.
func (c *Client) InvokeStream(ctx context.Context, req llm.Request, emit func(llm.Chunk)) (*llm.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:         req.Model,
		Messages:      toChatMessages(req.Messages),
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var out *llm.Response
	call := func() error {
		resp, err := c.post(ctx, "/chat/completions", body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		out = &llm.Response{Model: req.Model}
		out.Usage.CostUSD = parseCost(resp.Header.Get(costHeader))

		var content strings.Builder
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				return fmt.Errorf("unmarshal stream chunk: %w", err)
			}
			if chunk.Model != "" {
				out.Model = chunk.Model
			}
			if chunk.Usage != nil {
				out.Usage.PromptTokens = chunk.Usage.PromptTokens
				out.Usage.CompletionTokens = chunk.Usage.CompletionTokens
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				content.WriteString(chunk.Choices[0].Delta.Content)
				if emit != nil {
					emit(llm.Chunk{Text: chunk.Choices[0].Delta.Content})
				}
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read stream: %w", err)
		}

		out.Content = content.String()
		if emit != nil {
			emit(llm.Chunk{Done: true, Usage: out.Usage})
		}
		return nil
	}

	if err := c.execute(call); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks if the LiteLLM proxy is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/liveliness", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode < 400, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	return resp, nil
}

func (c *Client) execute(call func() error) error {
	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

func toChatMessages(msgs []llm.Message) []chatMessage {
	out := make([]chatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func parseCost(raw string) float64 {
	if raw == "" {
		return 0
	}
	cost, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return cost
}
