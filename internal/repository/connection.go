package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoConnectTimeout   = 10 * time.Second
	mongoSelectionTimeout = 5 * time.Second
	mongoMaxPool          = 100
	mongoMinPool          = 10
)

// ConnectMongoDB dials uri and returns a handle on the named database once the
// server answers a ping. ctx bounds both the dial and the ping. The client is
// disconnected again if the ping fails; on success the caller owns it and
// should call db.Client().Disconnect on shutdown.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(mongoConnectTimeout).
		SetServerSelectionTimeout(mongoSelectionTimeout).
		SetMaxPoolSize(mongoMaxPool).
		SetMinPoolSize(mongoMinPool)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client.Database(database), nil
}
