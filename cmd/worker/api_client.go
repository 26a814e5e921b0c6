package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type InstanceCounts struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Connecting   int `json:"connecting"`
	Disconnected int `json:"disconnected"`
}

type HealthSummary struct {
	Status    string         `json:"status"`
	Uptime    float64        `json:"uptime"`
	Instances InstanceCounts `json:"instances"`
}

type CleanupResult struct {
	Success bool `json:"success"`
	Cleaned int  `json:"cleaned"`
	Kept    int  `json:"kept"`
	Details struct {
		Cleaned []string `json:"cleaned"`
		Kept    []string `json:"kept"`
	} `json:"details"`
}

// GatewayClient talks to a running gateway over its HTTP API.
type GatewayClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewGatewayClient(baseURL, apiKey string) *GatewayClient {
	return &GatewayClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *GatewayClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *GatewayClient) Health(ctx context.Context) (HealthSummary, error) {
	var h HealthSummary
	err := c.do(ctx, http.MethodGet, "/health", &h)
	return h, err
}

// Cleanup asks the gateway to consolidate duplicate tenant sessions.
func (c *GatewayClient) Cleanup(ctx context.Context) (CleanupResult, error) {
	var r CleanupResult
	err := c.do(ctx, http.MethodPost, "/instance/cleanup", &r)
	return r, err
}
