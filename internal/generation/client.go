package generation

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

	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"go.uber.org/zap"
)

// Generator produces a reply for masked text. Implementations only ever see
// placeholder tokens, never the values behind them.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is one generation call
type Request struct {
	// Instructions go into the system message after the configured prompt.
	Instructions string
	// Text is the already masked user text.
	Text string
}

// Response carries the generated text and usage reported by the service
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Attempts     int    `json:"attempts"`
}

// StatusError is returned for non-2xx replies from the service
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation service returned %d: %s", e.Code, e.Body)
}

// ErrEmptyReply is returned when the service answers without choices
var ErrEmptyReply = errors.New("generation service returned no choices")

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	url          string
	apiKey       string
	model        string
	temperature  float64
	systemPrompt string
	maxRetries   int
	retryDelay   time.Duration
	http         *http.Client
	logger       *logger.Logger
}

// NewClient creates a client from upstream configuration
func NewClient(cfg config.UpstreamConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		url:          strings.TrimRight(cfg.BaseURL, "/") + "/v1/chat/completions",
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		http:         &http.Client{Timeout: timeout},
		logger:       log.WithComponent("generation"),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate sends the masked text and returns the first choice. Transport
// errors and 5xx replies are retried up to maxRetries times.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    c.messages(req),
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.do(ctx, body)
		if err == nil {
			resp.Attempts = attempt + 1
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil {
			break
		}
		c.logger.Warn("Generation attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.maxRetries),
			zap.Error(err))
	}

	return nil, lastErr
}

func (c *Client) messages(req Request) []message {
	system := c.systemPrompt
	if req.Instructions != "" {
		if system != "" {
			system += "\n\n"
		}
		system += req.Instructions
	}

	var msgs []message
	if system != "" {
		msgs = append(msgs, message{Role: "system", Content: system})
	}
	return append(msgs, message{Role: "user", Content: req.Text})
}

func (c *Client) do(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, ErrEmptyReply
	}

	choice := decoded.Choices[0]
	c.logger.Debug("Generation completed",
		zap.String("model", decoded.Model),
		zap.String("finish_reason", choice.FinishReason),
		zap.Duration("duration", time.Since(start)))

	return &Response{
		Text:         choice.Message.Content,
		Model:        decoded.Model,
		FinishReason: choice.FinishReason,
	}, nil
}

// retryable reports whether err is worth another attempt
func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500 || status.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrEmptyReply)
}
