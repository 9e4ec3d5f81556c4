// Package client is the Go SDK for the relay API: record reads and
// merges, command consumption, and a live event subscription with
// automatic resume.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/syncrelay/schema"
)

// Config configures a relay client.
type Config struct {
	BaseURL        string
	RelayKey       string
	HTTPClient     *http.Client
	Logger         pslog.Logger
	ReconnectDelay time.Duration
}

// Client talks to a relay server.
type Client struct {
	baseURL        string
	relayKey       string
	httpClient     *http.Client
	log            pslog.Logger
	reconnectDelay time.Duration
}

// New constructs a client from cfg.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("base url must include scheme and host")
	}
	if strings.TrimSpace(cfg.RelayKey) == "" {
		return nil, errors.New("relay key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Client{
		baseURL:        base,
		relayKey:       strings.TrimSpace(cfg.RelayKey),
		httpClient:     httpClient,
		log:            cfg.Logger,
		reconnectDelay: delay,
	}, nil
}

// GetRecord fetches the current record for a session.
func (c *Client) GetRecord(ctx context.Context, session schema.SessionID) (schema.Record, error) {
	var resp schema.GetRecordResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/record?session="+url.QueryEscape(string(session)), nil, &resp); err != nil {
		return schema.Record{}, err
	}
	return resp.Record, nil
}

// Update merges fields into the session record. The merge is shallow:
// fields absent from the map are left untouched.
func (c *Client) Update(ctx context.Context, session schema.SessionID, fields map[schema.FieldKey]string) (schema.Record, error) {
	payload := struct {
		Session schema.SessionID           `json:"session"`
		Fields  map[schema.FieldKey]string `json:"fields"`
	}{Session: session, Fields: fields}
	var resp schema.MergeRecordResponse
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/record", payload, &resp); err != nil {
		return schema.Record{}, err
	}
	return resp.Record, nil
}

// ClearCommands removes all pending command tokens for a session.
// Clearing an empty queue succeeds.
func (c *Client) ClearCommands(ctx context.Context, session schema.SessionID) error {
	var resp schema.ClearCommandsResponse
	return c.doJSON(ctx, http.MethodDelete, "/v1/commands?session="+url.QueryEscape(string(session)), nil, &resp)
}

// LatestCommand returns the newest pending command token, if any.
func (c *Client) LatestCommand(ctx context.Context, session schema.SessionID) (schema.CommandToken, bool, error) {
	var resp schema.LatestCommandResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/commands/latest?session="+url.QueryEscape(string(session)), nil, &resp); err != nil {
		return "", false, err
	}
	return resp.Token, resp.Ok, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.relayKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("relay: %s (status %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("relay: unexpected status %d", resp.StatusCode)
}
