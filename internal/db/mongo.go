package db

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	connectTimeout = 10 * time.Second
	appName        = "housemarket"
)

// Mongo pairs the driver client with the marketplace database.
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// Open connects, waits for the primary to answer and makes sure the listing and user
// indexes exist. The returned handle must be closed with Close.
func Open(ctx context.Context, uri, dbName string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetServerSelectionTimeout(connectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	m := &Mongo{Client: client, DB: client.Database(dbName)}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = m.Close(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	if err := EnsureIndexes(ctx, m.DB); err != nil {
		_ = m.Close(context.Background())
		return nil, err
	}

	logrus.WithField("db", dbName).Info("Connected to MongoDB")
	return m, nil
}

// Close disconnects the client. A nil handle is a no-op.
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := m.Client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	logrus.Info("MongoDB connection closed")
	return nil
}
