package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pagechat/internal/settings"
)

const (
	ProviderNone   = "none"
	ProviderJina   = "jina"
	ProviderCohere = "cohere"
)

var endpoints = map[string]string{
	ProviderJina:   "https://api.jina.ai/v1/rerank",
	ProviderCohere: "https://api.cohere.ai/v1/rerank",
}

var models = map[string]string{
	ProviderJina:   "jina-reranker-v1-base-en",
	ProviderCohere: "rerank-english-v3.0",
}

type Client struct {
	apiKey   string
	provider string
	client   *http.Client
	baseURL  string
}

func NewClient(provider, apiKey string) *Client {
	return &Client{
		provider: provider,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Rerank returns indices into docs, most relevant first. Unknown providers
// keep the input order.
func (c *Client) Rerank(ctx context.Context, query string, docs []string) ([]int, error) {
	url, ok := endpoints[c.provider]
	if !ok {
		return identity(len(docs)), nil
	}
	if c.baseURL != "" {
		url = c.baseURL
	}

	reqBody := map[string]interface{}{
		"model":     models[c.provider],
		"query":     query,
		"documents": docs,
	}
	if c.provider == ProviderCohere {
		reqBody["top_n"] = len(docs)
		reqBody["return_documents"] = false
	}

	jsonBody, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s api error: %d: %s", c.provider, resp.StatusCode, bytes.TrimSpace(body))
	}

	var result struct {
		Results []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(docs))
	for _, r := range result.Results {
		if r.Index >= 0 && r.Index < len(docs) {
			indices = append(indices, r.Index)
		}
	}
	return indices, nil
}

func identity(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// DynamicClient reads the provider and key from settings on every call and
// keeps one Client per (provider, key) pair.
type DynamicClient struct {
	settingsSvc *settings.Service
	baseURL     string

	mu       sync.Mutex
	client   *Client
	provider string
	key      string
}

func NewDynamicClient(svc *settings.Service) *DynamicClient {
	return &DynamicClient{settingsSvc: svc}
}

// WithBaseURL points every client it builds at url instead of the
// provider's public endpoint.
func (d *DynamicClient) WithBaseURL(url string) *DynamicClient {
	d.baseURL = url
	return d
}

func (d *DynamicClient) Rerank(ctx context.Context, query string, docs []string) ([]int, error) {
	s, err := d.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.RerankProvider == "" || s.RerankProvider == ProviderNone {
		return identity(len(docs)), nil
	}
	return d.getClient(s.RerankProvider, s.RerankAPIKey).Rerank(ctx, query, docs)
}

func (d *DynamicClient) getClient(provider, key string) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil || d.provider != provider || d.key != key {
		d.client = NewClient(provider, key)
		d.client.SetBaseURL(d.baseURL)
		d.provider = provider
		d.key = key
	}
	return d.client
}
