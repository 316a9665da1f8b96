package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// FriendshipRepo answers accepted-friendship queries against the platform's
// friendships collection. Read-only from this service's point of view.
type FriendshipRepo struct {
	col *mongo.Collection
}

func NewFriendshipRepo(col *mongo.Collection) *FriendshipRepo {
	return &FriendshipRepo{col: col}
}

// Accepted reports whether an accepted friendship exists between a and b,
// checked in both directions.
func (r *FriendshipRepo) Accepted(ctx context.Context, a, b string) (bool, error) {
	err := r.col.FindOne(ctx, bson.M{
		"status": "ACCEPTED",
		"$or": bson.A{
			bson.M{"user_a": a, "user_b": b},
			bson.M{"user_a": b, "user_b": a},
		},
	}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
