package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/common"
	"github.com/alwayssunny/alwayssunny/pkg/log"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama implements the Provider interface against a local Ollama server.
// Local inference can take a while so the read timeout is long.
type Ollama struct {
	client *http.Client
}

func newOllama() *Ollama {
	return &Ollama{
		client: common.HTTPClient(3 * time.Minute),
	}
}

// Name returns the provider id.
func (o *Ollama) Name() string { return "ollama" }

type ollamaRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate returns the raw model output for the request.
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	base := req.Creds.OllamaURL
	if base == "" {
		base = defaultOllamaURL
	}
	u, err := url.JoinPath(base, "api/generate")
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  req.Model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return "", err
	}

	hreq, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(hreq)
	if err != nil {
		return "", markRetryable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", markRetryable(err)
	}
	if resp.StatusCode >= 500 {
		return "", markRetryable(fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).ErrorContext(ctx, "ollama api error", slog.Int("status", resp.StatusCode), slog.String("body", string(respBody)))
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var res ollamaResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if res.Error != "" {
		return "", fmt.Errorf("ollama error: %s", res.Error)
	}
	return res.Response, nil
}
