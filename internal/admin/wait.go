package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/insikl/messaging-admin-ambassador/internal/logger"
	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// Console timing for restart waits.
const (
	DefaultRestartDelay = 5 * time.Second
	restartPollInterval = 2 * time.Second
)

// WaitForRestart waits initialDelay so the server has begun restarting, then
// polls the status until the server reports running or maintenance. Status
// failures while the server is down are expected and keep the poll going.
// ctx bounds the whole wait.
func (c *Client) WaitForRestart(ctx context.Context, initialDelay time.Duration) (*models.ServerStatus, error) {
	return c.waitForRestart(ctx, initialDelay, restartPollInterval)
}

func (c *Client) waitForRestart(ctx context.Context, initialDelay, interval time.Duration) (*models.ServerStatus, error) {
	if initialDelay > 0 {
		t := time.NewTimer(initialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var last *models.ServerStatus
	op := func() error {
		s, err := c.Status(ctx, "")
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
				return backoff.Permanent(err)
			}
			logger.Debug("status while waiting for restart: %v", err)
			return err
		}
		last = s
		if !IsUp(s.Server.State) {
			return fmt.Errorf("server state %d (%s)", s.Server.State, DescribeState(s.Server.State))
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if ctx.Err() != nil {
			return last, fmt.Errorf("server did not come back: %w", ctx.Err())
		}
		return last, err
	}
	return last, nil
}
