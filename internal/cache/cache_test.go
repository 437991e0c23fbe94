package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
)

func TestPaymentRequests_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	cli, err := queue.Connect(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()
	ctx := context.Background()
	rptID := "77777777777" + uuid.NewString()[:8]
	if err := cli.Set(ctx, key(rptID), `{"amount":100}`, time.Minute).Err(); err != nil {
		t.Fatal(err)
	}

	c := NewPaymentRequests(cli)
	if err := c.Delete(ctx, rptID); err != nil {
		t.Fatal(err)
	}
	if n, err := cli.Exists(ctx, key(rptID)).Result(); err != nil || n != 0 {
		t.Fatalf("exists=%d err=%v", n, err)
	}
	// second delete of a missing key
	if err := c.Delete(ctx, rptID); err != nil {
		t.Fatal(err)
	}
}
