package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"news_processor/internal/domain"
)

// Client calls the external content-processing API. It implements
// service.Processor; the worker owns per-attempt timeouts and retries, so the
// client only respects the caller's context.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

type Config struct {
	BaseURL string
	APIKey  string
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     logger.With("component", "processor_api"),
	}
}

type processRequest struct {
	URL string `json:"url"`
}

type processResponse struct {
	Success           bool            `json:"success"`
	Title             *string         `json:"title"`
	Content           *string         `json:"content"`
	TranslatedContent *string         `json:"translated_content"`
	Metadata          json.RawMessage `json:"metadata"`
	Error             string          `json:"error"`
}

// Process submits one URL for scraping, summarization and translation.
func (c *Client) Process(ctx context.Context, url string) (*domain.ProcessedContent, error) {
	payload, err := json.Marshal(processRequest{URL: url})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "NewsProcessor/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var apiResp processResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if !apiResp.Success {
		if apiResp.Error == "" {
			apiResp.Error = "processing returned no result"
		}
		return nil, fmt.Errorf("processor: %s", apiResp.Error)
	}

	c.logger.Debug("processed url", "url", url)

	return &domain.ProcessedContent{
		Title:             apiResp.Title,
		Content:           apiResp.Content,
		TranslatedContent: apiResp.TranslatedContent,
		Metadata:          apiResp.Metadata,
	}, nil
}
