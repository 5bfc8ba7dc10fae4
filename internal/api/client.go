// Package api resolves call targets against the hosted backend's REST
// surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skillswap/native/internal/domain"
)

const matchSelect = "id,status,requester_id,responder_id," +
	"requester:profiles!matches_requester_id_fkey(id,display_name)," +
	"responder:profiles!matches_responder_id_fkey(id,display_name)"

// ErrMatchNotFound is returned when no match has the requested id.
var ErrMatchNotFound = errors.New("match not found")

type matchRow struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	RequesterID string                 `json:"requester_id"`
	ResponderID string                 `json:"responder_id"`
	Requester   domain.CallParticipant `json:"requester"`
	Responder   domain.CallParticipant `json:"responder"`
}

// Client reads matches and profiles from the backend.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAccessToken authenticates as a signed-in user instead of the anon key.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates an API client for the project at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveMatch looks up an accepted match and returns the participant selfID
// as local and the other member as remote.
func (c *Client) ResolveMatch(ctx context.Context, matchID, selfID string) (local, remote domain.CallParticipant, err error) {
	q := url.Values{}
	q.Set("id", "eq."+matchID)
	q.Set("select", matchSelect)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/v1/matches?"+q.Encode(), nil)
	if err != nil {
		return local, remote, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("apikey", c.apiKey)
	bearer := c.token
	if bearer == "" {
		bearer = c.apiKey
	}
	httpReq.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return local, remote, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return local, remote, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return local, remote, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var rows []matchRow
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return local, remote, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(rows) == 0 {
		return local, remote, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}

	m := rows[0]
	if m.Status != "" && m.Status != "accepted" {
		return local, remote, fmt.Errorf("match %s is %s, not accepted", matchID, m.Status)
	}
	requester, responder := m.Requester, m.Responder
	if requester.ID == "" {
		requester.ID = m.RequesterID
	}
	if responder.ID == "" {
		responder.ID = m.ResponderID
	}

	switch selfID {
	case requester.ID:
		return requester, responder, nil
	case responder.ID:
		return responder, requester, nil
	}
	return local, remote, fmt.Errorf("participant %s is not a member of match %s", selfID, matchID)
}
