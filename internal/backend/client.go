package backend

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
)

const (
	pathNewToken      = "/call-center/new-token"
	pathChangeStatus  = "/agents/change-status"
	pathAddConference = "/call-center/add-customer-to-conference"

	maxErrorBody = 512
)

var ErrEmptyToken = errors.New("backend: empty token in response")

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s returned status %d: %s", e.Path, e.Code, e.Body)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the call-center REST backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

func New(cfg Config) *Client {
	return NewWithHTTPClient(cfg, nil)
}

func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
		log:     cfg.Logger,
	}
}

type newTokenRequest struct {
	Identity string `json:"identity"`
}

type newTokenResponse struct {
	Token string `json:"token"`
}

// NewToken mints a capability token for identity.
func (c *Client) NewToken(ctx context.Context, identity string) (string, error) {
	var out newTokenResponse
	if err := c.post(ctx, pathNewToken, newTokenRequest{Identity: identity}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", ErrEmptyToken
	}
	return out.Token, nil
}

type changeStatusRequest struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
}

// ChangeStatus writes the agent's presence. The backend treats repeats as no-ops.
func (c *Client) ChangeStatus(ctx context.Context, status, agentID string) error {
	return c.post(ctx, pathChangeStatus, changeStatusRequest{Status: status, AgentID: agentID}, nil)
}

type addToConferenceRequest struct {
	ConferenceID string `json:"conferenceId"`
	Phone        string `json:"phone"`
}

// AddCustomerToConference asks the backend to dial phone into the conference.
func (c *Client) AddCustomerToConference(ctx context.Context, conferenceID, phone string) error {
	return c.post(ctx, pathAddConference, addToConferenceRequest{ConferenceID: conferenceID, Phone: phone}, nil)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("backend: marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("backend request", "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}
