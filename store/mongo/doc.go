// Package mongo implements store.Store on MongoDB.
//
// Items live in the workpool_items collection with timestamps stored as
// Unix nanoseconds. Every mutation runs in a multi-document transaction,
// so the deployment must be a replica set or sharded cluster. A claim under
// an active limit counts the pool's active items and bumps a per-pool
// document in workpool_pools within the same transaction; concurrent
// claims on one pool therefore write-conflict and the driver retries the
// loser against the new count.
//
// The caller owns the *mongo.Client lifecycle:
//
//	client, err := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("workpool"))
package mongo
