// Package vision talks to the external vision-language service that
// classifies and describes traffic camera frames. The service exposes an
// OpenAI-compatible chat completions endpoint accepting inline base64
// images.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crashwatch/internal/pipeline"
)

const (
	classificationPrompt = "You are an automated traffic monitoring system. Classify the attached image based ONLY on whether a vehicle accident is visible. Respond with exactly one word: 'accident' or 'safe'."
	descriptionPrompt    = "An accident has been detected in the attached image. Provide a brief, factual description of the accident scene, focusing on the vehicles involved and their apparent situation. Include the approximate time based on lighting if possible (e.g., daytime, nighttime). Limit the description to 1-2 sentences."
)

// ServiceError wraps a failed call to the vision service. Callers treat
// it as data-level: the sample is abandoned and the next one recovers.
type ServiceError struct {
	Op  string // "classify" or "describe"
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("vision %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Config holds vision service connection settings.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
}

// Client implements pipeline.VisionService against a chat completions API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a vision client. Call deadlines come from the caller's
// context; the transport timeout is only a safety net.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 120 * time.Second},
	}
}

// Classify labels a frame as safe or accident.
func (c *Client) Classify(ctx context.Context, jpeg []byte) (pipeline.Label, error) {
	// Low temperature: this is a classification, not prose.
	text, err := c.complete(ctx, classificationPrompt, jpeg, 10, 0.1)
	if err != nil {
		return "", &ServiceError{Op: "classify", Err: err}
	}
	return parseLabel(text), nil
}

// Describe produces a short accident scene description.
func (c *Client) Describe(ctx context.Context, jpeg []byte) (string, error) {
	text, err := c.complete(ctx, descriptionPrompt, jpeg, 100, 0.7)
	if err != nil {
		return "", &ServiceError{Op: "describe", Err: err}
	}
	return strings.TrimSpace(text), nil
}

// parseLabel maps model output onto the binary label. Anything that is
// not clearly an accident reads as safe.
func parseLabel(text string) pipeline.Label {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(t, "accident") && !strings.Contains(t, "no_accident") && !strings.Contains(t, "no accident") {
		return pipeline.LabelAccident
	}
	return pipeline.LabelSafe
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, prompt string, jpeg []byte, maxTokens int, temperature float64) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

var _ pipeline.VisionService = (*Client)(nil)
