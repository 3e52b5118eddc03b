package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keeva-ai/keeva/pkg/config"
)

const defaultAPIBase = "https://openrouter.ai/api/v1"

// HTTPProvider talks to an OpenAI-compatible chat-completions endpoint.
type HTTPProvider struct {
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

func NewHTTPProvider(cfg config.ProviderConfig, model string) *HTTPProvider {
	client := &http.Client{Timeout: 120 * time.Second}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	return &HTTPProvider{
		apiKey:     cfg.APIKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		httpClient: client,
	}
}

func (p *HTTPProvider) Complete(ctx context.Context, system string, messages []Message, format ResponseFormat) (string, error) {
	if p.apiBase == "" {
		return "", fmt.Errorf("completion API base not configured")
	}

	payload := make([]Message, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		payload = append(payload, Message{Role: "system", Content: system})
	}
	payload = append(payload, messages...)

	requestBody := map[string]interface{}{
		"model":    p.model,
		"messages": payload,
	}
	if format == FormatJSON {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion request failed:\n  Status: %d\n  Body:   %s", resp.StatusCode, string(body))
	}

	return parseCompletion(body)
}

func parseCompletion(body []byte) (string, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse completion response: %w", err)
	}
	if apiResponse.Error != nil && apiResponse.Error.Message != "" {
		return "", fmt.Errorf("completion service error: %s", apiResponse.Error.Message)
	}
	if len(apiResponse.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(apiResponse.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
