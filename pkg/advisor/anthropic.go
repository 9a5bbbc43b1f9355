package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/common"
	"github.com/alwayssunny/alwayssunny/pkg/log"
)

// Anthropic implements the Provider interface against the Anthropic
// messages API.
type Anthropic struct {
	client  *http.Client
	baseURL string
}

func newAnthropic() *Anthropic {
	return &Anthropic{
		client:  common.HTTPClient(2 * time.Minute),
		baseURL: "https://api.anthropic.com",
	}
}

// Name returns the provider id.
func (a *Anthropic) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    string `json:"system"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate returns the raw model output for the request.
func (a *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	if req.Creds.AnthropicAPIKey == "" {
		return "", errors.New("missing anthropic api key")
	}

	areq := anthropicRequest{
		Model:     req.Model,
		MaxTokens: 1024,
		System:    req.System,
	}
	areq.Messages = append(areq.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(areq)
	if err != nil {
		return "", err
	}

	hreq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("x-api-key", req.Creds.AnthropicAPIKey)
	hreq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(hreq)
	if err != nil {
		return "", markRetryable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", markRetryable(err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", markRetryable(fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).ErrorContext(ctx, "anthropic api error", slog.Int("status", resp.StatusCode), slog.String("body", string(respBody)))
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var res anthropicResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return "", fmt.Errorf("failed to decode anthropic response: %w", err)
	}
	if res.Error != nil {
		return "", fmt.Errorf("anthropic error: %s", res.Error.Message)
	}
	if len(res.Content) == 0 {
		return "", errors.New("anthropic returned no content")
	}
	return res.Content[0].Text, nil
}
