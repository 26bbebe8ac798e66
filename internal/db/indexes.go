package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	ListingsCollection = "listings"
	UsersCollection    = "users"
)

// EnsureIndexes creates the indexes the listing queries and sign-in rely on.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	listingIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "offer", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "user_ref", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := database.Collection(ListingsCollection).Indexes().CreateMany(ctx, listingIndexes); err != nil {
		return fmt.Errorf("failed to create listing indexes: %w", err)
	}

	userIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := database.Collection(UsersCollection).Indexes().CreateOne(ctx, userIndex); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}
