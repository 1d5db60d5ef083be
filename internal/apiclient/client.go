// Package apiclient is the HTTP client agents and the auth sidecar use to
// talk to the orchestrator.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/model"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "api-client").Logger(),
	}
}

// RegisterNode announces the node to the orchestrator.
func (c *Client) RegisterNode(ctx context.Context, n *model.Node) (model.OpStatus, error) {
	var st model.OpStatus
	if err := c.doJSON(ctx, http.MethodPost, "/node", n, &st); err != nil {
		return model.OpStatus{}, fmt.Errorf("register node: %w", err)
	}
	return st, nil
}

// PushStat reports a connection's rolling counters.
func (c *Client) PushStat(ctx context.Context, id uuid.UUID, stat model.ConnectionStat) error {
	payload := struct {
		Stat model.ConnectionStat `json:"stat"`
	}{Stat: stat}
	if err := c.doJSON(ctx, http.MethodPut, "/connection/"+id.String(), payload, nil); err != nil {
		return fmt.Errorf("push stat for %s: %w", id, err)
	}
	return nil
}

// ConnectionsQuery narrows a Connections call. A non-nil LastUpdate asks
// the orchestrator to also republish the batch on the bus; a zero time
// means "everything", for a subscriber starting from scratch.
type ConnectionsQuery struct {
	Env        string
	Proto      model.ProtoTag
	LastUpdate *time.Time
}

// Connections fetches the current connection set.
func (c *Client) Connections(ctx context.Context, q ConnectionsQuery) ([]*model.Connection, error) {
	v := url.Values{}
	if q.Env != "" {
		v.Set("env", q.Env)
	}
	if q.Proto != "" {
		v.Set("proto", string(q.Proto))
	}
	if q.LastUpdate != nil {
		var sec int64
		if !q.LastUpdate.IsZero() {
			sec = q.LastUpdate.Unix()
		}
		v.Set("last_update", strconv.FormatInt(sec, 10))
	}

	var conns []*model.Connection
	if err := c.doJSON(ctx, http.MethodGet, "/connections?"+v.Encode(), nil, &conns); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotModified {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
