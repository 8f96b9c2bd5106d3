package provider

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

	"vclip/server/internal/model"
)

const (
	defaultLLMEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel    = "gpt-4o"
	defaultLLMTimeout  = 60 * time.Second
)

const highlightSystemPrompt = "You are a helpful assistant that identifies engaging video highlights."

const highlightUserPrompt = `You are an expert video editor finding the most engaging highlights in a video transcript.

Identify 3-5 self-contained segments that would make compelling short vertical clips (15-60 seconds each).
Each segment needs a clear beginning and end and must make sense without extra context.
Prefer emotional moments, key insights, funny interactions or surprising revelations.

Transcript:

%s

Respond with a JSON array only, one object per highlight:
[
  {"start_time": "MM:SS", "end_time": "MM:SS", "title": "Catchy title (max 50 characters)", "description": "One or two sentences on why it works"}
]`

// LLMConfig captures the settings for an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	APIKey      string
	Endpoint    string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// LLMSelector asks a chat completion model to pick highlights. A single
// attempt is made per job.
type LLMSelector struct {
	cfg        LLMConfig
	httpClient *http.Client
}

type LLMOption func(*LLMSelector)

func WithHTTPClient(client *http.Client) LLMOption {
	return func(s *LLMSelector) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func NewLLMSelector(cfg LLMConfig, opts ...LLMOption) *LLMSelector {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultLLMEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultLLMModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLLMTimeout
	}
	s := &LLMSelector{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *LLMSelector) SelectHighlights(ctx context.Context, transcript string) ([]model.HighlightSpec, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, errors.New("llm select: transcript is empty")
	}
	if s.cfg.APIKey == "" {
		return nil, errors.New("llm select: api key required")
	}
	payload := chatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: highlightSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(highlightUserPrompt, transcript)},
		},
		Temperature: s.cfg.Temperature,
		MaxTokens:   1500,
	}
	content, err := s.complete(ctx, payload)
	if err != nil {
		return nil, err
	}
	specs, err := DecodeHighlights(content)
	if err != nil {
		return nil, fmt.Errorf("llm select: parse payload: %w", err)
	}
	return specs, nil
}

func (s *LLMSelector) complete(ctx context.Context, payload chatCompletionRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm request: http %d: %s", resp.StatusCode, tail(string(body), 400))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("llm request: decode response: %w", err)
	}
	if completion.Error != nil && completion.Error.Message != "" {
		return "", fmt.Errorf("llm request: %s", completion.Error.Message)
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", errors.New("llm request: empty content")
}

// DecodeHighlights parses model output into highlight specs. Markdown code
// fences are stripped and both a bare array and {"highlights": [...]} are accepted.
func DecodeHighlights(content string) ([]model.HighlightSpec, error) {
	cleaned := stripCodeFence(content)
	if cleaned == "" {
		return nil, errors.New("empty payload")
	}
	var specs []model.HighlightSpec
	if strings.HasPrefix(cleaned, "{") {
		var wrapped struct {
			Highlights []model.HighlightSpec `json:"highlights"`
		}
		if err := json.Unmarshal([]byte(cleaned), &wrapped); err != nil {
			return nil, err
		}
		specs = wrapped.Highlights
	} else if err := json.Unmarshal([]byte(cleaned), &specs); err != nil {
		return nil, err
	}
	if specs == nil {
		specs = []model.HighlightSpec{}
	}
	return specs, nil
}

func stripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
