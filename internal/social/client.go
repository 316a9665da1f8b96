// Package social is the HTTP client for the platform's social-graph
// service, used as the friendship source when this service does not share
// the graph database. Calls run through a circuit breaker with bounded
// retries; an open breaker fails closed at the permission layer.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/apperr"
)

type Client struct {
	base  string
	http  *http.Client
	cb    *gobreaker.CircuitBreaker
	retry time.Duration
	log   *zap.SugaredLogger
}

func NewClient(base string, timeout, retryMaxElapsed time.Duration, log *zap.SugaredLogger) *Client {
	st := gobreaker.Settings{
		Name:    "social-graph",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: timeout},
		cb:    gobreaker.NewCircuitBreaker(st),
		retry: retryMaxElapsed,
		log:   log,
	}
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// Accepted asks the social graph whether an accepted friendship exists
// between a and b.
func (c *Client) Accepted(ctx context.Context, a, b string) (bool, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.acceptedWithRetry(ctx, a, b)
	})
	if err != nil {
		return false, fmt.Errorf("%w: social graph: %v", apperr.ErrDependencyUnavailable, err)
	}
	return res.(bool), nil
}

func (c *Client) acceptedWithRetry(ctx context.Context, a, b string) (bool, error) {
	var accepted bool
	op := func() error {
		q := url.Values{"a": {a}, "b": {b}}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.base+"/friendships/accepted?"+q.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
		}
		var body acceptedResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(err)
		}
		accepted = body.Accepted
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.retry
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return false, err
	}
	return accepted, nil
}
