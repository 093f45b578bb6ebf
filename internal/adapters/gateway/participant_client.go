// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"connect-chat/internal/adapters/dto"
	"connect-chat/internal/core/ports"
)

// Custom errors for specific participant service failures
var (
	// ErrUnauthorized indicates a missing or malformed connection token (401)
	ErrUnauthorized = errors.New("participant service rejected credentials")

	// ErrSessionExpired indicates the connection token no longer grants access (403)
	// Caller should end the session
	ErrSessionExpired = errors.New("participant connection expired")

	// ErrRateLimited indicates throttling (429)
	ErrRateLimited = errors.New("participant service rate limit exceeded")
)

var (
	_ ports.TranscriptSource = (*ParticipantClient)(nil)
	_ ports.MessageSender    = (*ParticipantClient)(nil)
)

const bearerHeader = "X-Amz-Bearer"

// ParticipantClient talks to the chat participant service REST API
type ParticipantClient struct {
	httpClient   *http.Client
	baseURL      string
	startChatURL string
	maxRetries   int
	backoff      time.Duration
}

// NewParticipantClient creates a new participant API client
func NewParticipantClient(baseURL, startChatURL string) *ParticipantClient {
	return &ParticipantClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:      strings.TrimRight(baseURL, "/"),
		startChatURL: startChatURL,
		maxRetries:   3,
		backoff:      500 * time.Millisecond,
	}
}

// serviceError is the error body returned by the participant service
type serviceError struct {
	Message string `json:"message"`
	Type    string `json:"__type"`
}

// GetTranscript fetches one transcript page
func (c *ParticipantClient) GetTranscript(ctx context.Context, connectionToken string, req dto.GetTranscriptRequest) (*dto.TranscriptPage, error) {
	var page dto.TranscriptPage
	if err := c.call(ctx, "/participant/transcript", connectionToken, req, &page); err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return &page, nil
}

// SendMessage posts a chat message
func (c *ParticipantClient) SendMessage(ctx context.Context, connectionToken string, req dto.SendMessageRequest) (*dto.SendResponse, error) {
	var resp dto.SendResponse
	if err := c.call(ctx, "/participant/message", connectionToken, req, &resp); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &resp, nil
}

// SendEvent posts a typing indicator, read receipt or other event
func (c *ParticipantClient) SendEvent(ctx context.Context, connectionToken string, req dto.SendEventRequest) (*dto.SendResponse, error) {
	var resp dto.SendResponse
	if err := c.call(ctx, "/participant/event", connectionToken, req, &resp); err != nil {
		return nil, fmt.Errorf("send event: %w", err)
	}
	return &resp, nil
}

// DisconnectParticipant ends the chat for the customer
func (c *ParticipantClient) DisconnectParticipant(ctx context.Context, connectionToken string) error {
	if err := c.call(ctx, "/participant/disconnect", connectionToken, struct{}{}, nil); err != nil {
		return fmt.Errorf("disconnect participant: %w", err)
	}
	return nil
}

// StartChat asks the upstream start-chat endpoint for a new contact
func (c *ParticipantClient) StartChat(ctx context.Context, instanceID, contactFlowID string, req dto.StartChatRequest) (*dto.StartChatResult, error) {
	payload := dto.StartChatContactRequest{
		InstanceID:    instanceID,
		ContactFlowID: contactFlowID,
	}
	payload.ParticipantDetails.DisplayName = req.CustomerName

	// Upstream answers either with the result itself or wrapped in data.startChatResult
	var body struct {
		dto.StartChatResult
		Data struct {
			StartChatResult dto.StartChatResult `json:"startChatResult"`
		} `json:"data"`
	}
	if err := c.do(ctx, c.startChatURL, "", payload, &body); err != nil {
		return nil, fmt.Errorf("start chat: %w", err)
	}

	result := body.StartChatResult
	if result.ParticipantToken == "" {
		result = body.Data.StartChatResult
	}
	if result.ParticipantToken == "" {
		return nil, fmt.Errorf("start chat: upstream response has no participant token")
	}
	return &result, nil
}

func (c *ParticipantClient) call(ctx context.Context, path, token string, in, out interface{}) error {
	return c.do(ctx, c.baseURL+path, token, in, out)
}

// do sends the request with retry and linear backoff.
// Sentinel errors and other 4xx answers are not retried.
func (c *ParticipantClient) do(ctx context.Context, url, token string, in, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		retryable, err := c.attempt(ctx, url, token, in, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err

		if attempt < c.maxRetries {
			backoff := time.Duration(attempt) * c.backoff
			slog.Warn("Retrying participant API call",
				"url", url,
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *ParticipantClient) attempt(ctx context.Context, url, token string, in, out interface{}) (retryable bool, err error) {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(bearerHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("participant api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var svcErr serviceError
		_ = json.Unmarshal(body, &svcErr)

		slog.Error("Participant API error",
			"url", url,
			"status_code", resp.StatusCode,
			"error_type", svcErr.Type,
			"error_message", svcErr.Message,
		)

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return false, ErrUnauthorized
		case resp.StatusCode == http.StatusForbidden:
			return false, ErrSessionExpired
		case resp.StatusCode == http.StatusTooManyRequests:
			return false, ErrRateLimited
		case resp.StatusCode >= 500:
			return true, fmt.Errorf("participant api error %d: %s", resp.StatusCode, svcErr.Message)
		default:
			return false, fmt.Errorf("participant api error %d: %s", resp.StatusCode, svcErr.Message)
		}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}
