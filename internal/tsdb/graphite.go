package tsdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNoData is returned when a query matches no series or only nulls.
var ErrNoData = errors.New("no datapoints")

// GraphiteClient queries the graphite-web render API.
type GraphiteClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewGraphiteClient(baseURL string) *GraphiteClient {
	return &GraphiteClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type renderSeries struct {
	Target     string       `json:"target"`
	Datapoints [][2]*float64 `json:"datapoints"` // [value, ts]; value may be null
}

func (c *GraphiteClient) render(ctx context.Context, target, from string) ([]renderSeries, error) {
	q := url.Values{}
	q.Set("target", target)
	q.Set("from", from)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/render?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("render %s: status %d: %s", target, resp.StatusCode, string(body))
	}

	var series []renderSeries
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("decode render response for %s: %w", target, err)
	}
	return series, nil
}

// Latest returns the newest non-null datapoint for path within the lookback
// window.
func (c *GraphiteClient) Latest(ctx context.Context, path string, lookback time.Duration) (float64, time.Time, error) {
	series, err := c.render(ctx, path, fmt.Sprintf("-%ds", int(lookback.Seconds())))
	if err != nil {
		return 0, time.Time{}, err
	}

	var (
		value float64
		ts    time.Time
		found bool
	)
	for _, s := range series {
		for _, dp := range s.Datapoints {
			if dp[0] == nil || dp[1] == nil {
				continue
			}
			t := time.Unix(int64(*dp[1]), 0)
			if !found || t.After(ts) {
				value, ts, found = *dp[0], t, true
			}
		}
	}
	if !found {
		return 0, time.Time{}, ErrNoData
	}
	return value, ts, nil
}

// SumSince sums every non-null datapoint of every series matching path
// (wildcards allowed) from the given time onward.
func (c *GraphiteClient) SumSince(ctx context.Context, path string, since time.Time) (float64, error) {
	series, err := c.render(ctx, path, fmt.Sprintf("%d", since.Unix()))
	if err != nil {
		return 0, err
	}

	var (
		sum   float64
		found bool
	)
	for _, s := range series {
		for _, dp := range s.Datapoints {
			if dp[0] == nil {
				continue
			}
			sum += *dp[0]
			found = true
		}
	}
	if !found {
		return 0, ErrNoData
	}
	return sum, nil
}
