//go:build integration

package mongo_test

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/workpool/store"
	mongostore "github.com/xraph/workpool/store/mongo"
	"github.com/xraph/workpool/store/storetest"
)

// setupDB starts a single-node replica set and returns a database handle.
func setupDB(t *testing.T) *mongod.Database {
	t.Helper()

	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
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
	client, err := mongod.Connect(options.Client().ApplyURI(uri).SetDirect(true))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	return client.Database("workpool_test")
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		if err := db.Drop(ctx); err != nil {
			t.Fatalf("drop: %v", err)
		}
		// Transactions cannot create collections implicitly on older
		// servers, so create them up front.
		for _, name := range []string{"workpool_items", "workpool_pools"} {
			if err := db.CreateCollection(ctx, name); err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
		}
		s := mongostore.New(db)
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}
