// Package cache invalidates the payment request info cached by the
// activation flow, keyed by RPT id.
package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "keys:"

type PaymentRequests struct {
	cli *redis.Client
}

func NewPaymentRequests(cli *redis.Client) *PaymentRequests {
	return &PaymentRequests{cli: cli}
}

func key(rptID string) string { return keyPrefix + rptID }

// Delete drops the cached entry for rptID. A missing key is not an error.
func (c *PaymentRequests) Delete(ctx context.Context, rptID string) error {
	if err := c.cli.Del(ctx, key(rptID)).Err(); err != nil {
		return fmt.Errorf("invalidate payment request %s: %w", rptID, err)
	}
	return nil
}
