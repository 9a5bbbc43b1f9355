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

// OpenAI implements the Provider interface against the OpenAI chat API.
type OpenAI struct {
	client  *http.Client
	baseURL string
}

func newOpenAI() *OpenAI {
	return &OpenAI{
		client:  common.HTTPClient(2 * time.Minute),
		baseURL: "https://api.openai.com",
	}
}

// Name returns the provider id.
func (o *OpenAI) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate returns the raw model output for the request.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	if req.Creds.OpenAIAPIKey == "" {
		return "", errors.New("missing openai api key")
	}

	oreq := openAIRequest{
		Model: req.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
	}
	oreq.ResponseFormat.Type = "json_object"
	body, err := json.Marshal(oreq)
	if err != nil {
		return "", err
	}

	hreq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+req.Creds.OpenAIAPIKey)

	resp, err := o.client.Do(hreq)
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
		log.Ctx(ctx).ErrorContext(ctx, "openai api error", slog.Int("status", resp.StatusCode), slog.String("body", string(respBody)))
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var res openAIResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return "", fmt.Errorf("failed to decode openai response: %w", err)
	}
	if res.Error != nil {
		return "", fmt.Errorf("openai error: %s", res.Error.Message)
	}
	if len(res.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return res.Choices[0].Message.Content, nil
}
