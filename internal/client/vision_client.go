package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deckcritic/api/internal/config"
)

// VisionAnalyzer defines the interface to the external vision/analysis
// capability. Pages are passed by signed URL, never as raw bytes.
type VisionAnalyzer interface {
	AnalyzePage(ctx context.Context, imageURL string, pageNumber, totalPages int) (string, error)
	Aggregate(ctx context.Context, pageFeedback []string) (string, error)
	IsConfigured() bool
}

// VisionClient talks to an OpenAI-compatible chat completions endpoint with
// image inputs.
type VisionClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// visionMessage content is either a plain string or a list of content parts.
type visionMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

const pageSystemPrompt = `You are a pitch deck reviewer. You are given one slide of a pitch deck as an image.
Describe what the slide communicates and give concise, concrete feedback on its clarity,
messaging and design. Keep it under 150 words.`

const aggregateSystemPrompt = `You are a pitch deck reviewer. You are given per-slide feedback for a full deck.
Produce an overall evaluation: a short summary, a score from 1 to 100, the deck's main
strengths, and its main weaknesses. Respond as JSON with keys "summary", "score",
"strengths", "weaknesses".`

// NewVisionClient creates a new vision analysis client
func NewVisionClient(cfg *config.VisionConfig) *VisionClient {
	return &VisionClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// AnalyzePage evaluates a single page image, fetched by the provider from the
// signed URL.
func (c *VisionClient) AnalyzePage(ctx context.Context, imageURL string, pageNumber, totalPages int) (string, error) {
	messages := []visionMessage{
		{Role: "system", Content: pageSystemPrompt},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: fmt.Sprintf("Slide %d of %d.", pageNumber, totalPages)},
			{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
		}},
	}

	return c.complete(ctx, messages, 512)
}

// Aggregate runs the overall evaluation pass across all per-page feedback.
func (c *VisionClient) Aggregate(ctx context.Context, pageFeedback []string) (string, error) {
	var sb strings.Builder
	for i, fb := range pageFeedback {
		if fb == "" {
			fb = "(no feedback available for this slide)"
		}
		fmt.Fprintf(&sb, "Slide %d:\n%s\n\n", i+1, fb)
	}

	messages := []visionMessage{
		{Role: "system", Content: aggregateSystemPrompt},
		{Role: "user", Content: sb.String()},
	}

	return c.complete(ctx, messages, 1024)
}

func (c *VisionClient) complete(ctx context.Context, messages []visionMessage, maxTokens int) (string, error) {
	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.4,
		MaxTokens:   maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *VisionClient) IsConfigured() bool {
	return c.apiKey != ""
}
