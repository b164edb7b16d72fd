// Package validate checks that a freshly indexed dataset is being served.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Probe reports whether the index endpoint is ready. A nil error means ready.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// Settle waits a fixed delay and reports ready.
type Settle struct {
	Delay time.Duration
}

func (s Settle) Check(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Chain runs probes in order and stops at the first failure.
type Chain []Probe

func (c Chain) Check(ctx context.Context) error {
	for _, p := range c {
		if err := p.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ErrRed is returned when the cluster reports status red.
var ErrRed = errors.New("cluster status is red")

// ClusterHealth polls <Endpoint>/_cluster/health until the cluster is green or
// yellow. Transport errors and 5xx responses are retried with exponential
// backoff until Timeout elapses.
type ClusterHealth struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

type clusterHealth struct {
	ClusterName string `json:"cluster_name"`
	Status      string `json:"status"`
}

func (c ClusterHealth) Check(ctx context.Context) error {
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	target := strings.TrimRight(c.Endpoint, "/") + "/_cluster/health"

	attempt := 0
	operation := func() (string, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("build health request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			logger.Debug("health probe failed", "attempt", attempt, "error", err)
			return "", fmt.Errorf("query %s: %w", target, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("query %s: status %d", target, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return "", backoff.Permanent(fmt.Errorf("query %s: status %d: %s", target, resp.StatusCode, string(body)))
		}

		var health clusterHealth
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return "", backoff.Permanent(fmt.Errorf("decode cluster health: %w", err))
		}
		switch health.Status {
		case "green", "yellow":
			return health.Status, nil
		case "red":
			return "", ErrRed
		default:
			return "", backoff.Permanent(fmt.Errorf("unexpected cluster status %q", health.Status))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err != nil {
		return fmt.Errorf("index not ready: %w", err)
	}
	logger.Info("index ready", "endpoint", c.Endpoint, "status", status, "attempts", attempt)
	return nil
}
