package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client is the raw contract against the external text-generation service.
type Client interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Complete runs one chat completion and returns the response text.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

const systemPrompt = "You are an expert AI trend analyst. Analyze social media posts about AI and technology and respond exactly in the format requested."

// OpenAIClient talks to the OpenAI-compatible embeddings and chat endpoints.
// It carries no retry or breaker logic; wrap it in a ResilientClient.
type OpenAIClient struct {
	client          *http.Client
	apiKey          string
	apiURL          string
	embeddingModel  string
	completionModel string
}

// OpenAIConfig configures the raw client.
type OpenAIConfig struct {
	APIKey          string
	APIURL          string
	EmbeddingModel  string
	CompletionModel string
}

// NewOpenAIClient creates a raw OpenAI client. Timeouts are driven by the
// caller's context, not the HTTP client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-large"
	}
	completionModel := cfg.CompletionModel
	if completionModel == "" {
		completionModel = "gpt-4o"
	}
	return &OpenAIClient{
		client:          &http.Client{},
		apiKey:          cfg.APIKey,
		apiURL:          apiURL,
		embeddingModel:  embeddingModel,
		completionModel: completionModel,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates embedding vectors for the given texts in one call.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", errInvalidInput)
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.embeddingModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal embed request: %v", errInvalidInput, err)
	}

	body, err := c.post(ctx, c.apiURL+"/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embed response has %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete runs a single non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", errInvalidInput)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.completionModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal completion request: %v", errInvalidInput, err)
	}

	body, err := c.post(ctx, c.apiURL+"/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", errInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
