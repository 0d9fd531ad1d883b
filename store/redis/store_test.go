//go:build integration

package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/workpool/store"
	"github.com/xraph/workpool/store/redis"
	"github.com/xraph/workpool/store/storetest"
)

// setupClient starts a Redis container and returns a client connected to it.
func setupClient(t *testing.T) *goredis.Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		if err := client.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		return redis.New(client)
	})
}

func TestIndexesFollowState(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	s := redis.New(client)

	it := storetest.NewItem("thumbs")
	if err := s.Enqueue(ctx, it); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n := client.ZCard(ctx, "workpool:pending:thumbs").Val(); n != 1 {
		t.Fatalf("pending index size = %d, want 1", n)
	}

	if err := s.Delete(ctx, it.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, key := range []string{"workpool:pending:thumbs", "workpool:item_ids"} {
		if n := client.ZCard(ctx, key).Val(); n != 0 {
			t.Errorf("%s size = %d after delete, want 0", key, n)
		}
	}
}
