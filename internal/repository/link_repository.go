package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Link parent kinds.
const (
	ParentGallery = "gallery"
	ParentPost    = "post"
	ParentMessage = "message"
)

// Link is one media-to-container association row in media_links. Deleting a
// media removes its links as an explicit cascade step.
type Link struct {
	MediaID    string `bson:"media_id"`
	ParentType string `bson:"parent_type"`
	ParentID   string `bson:"parent_id"`
	Position   int    `bson:"position,omitempty"`
}

type LinkStore interface {
	// SetParent replaces any existing link of the same parent type, so
	// gallery membership stays exclusive.
	SetParent(ctx context.Context, link Link) error
	RemoveParent(ctx context.Context, mediaID, parentType string) error
	RemoveAll(ctx context.Context, mediaID string) error
	ByParent(ctx context.Context, parentType, parentID string) ([]Link, error)
}

type LinkRepo struct {
	col *mongo.Collection
}

func NewLinkRepo(col *mongo.Collection) *LinkRepo {
	return &LinkRepo{col: col}
}

func (r *LinkRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "media_id", Value: 1}, {Key: "parent_type", Value: 1}}},
		{Keys: bson.D{{Key: "parent_type", Value: 1}, {Key: "parent_id", Value: 1}, {Key: "position", Value: 1}}},
	})
	return err
}

func (r *LinkRepo) SetParent(ctx context.Context, link Link) error {
	if _, err := r.col.DeleteMany(ctx, bson.M{"media_id": link.MediaID, "parent_type": link.ParentType}); err != nil {
		return err
	}
	_, err := r.col.InsertOne(ctx, link)
	return err
}

func (r *LinkRepo) RemoveParent(ctx context.Context, mediaID, parentType string) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"media_id": mediaID, "parent_type": parentType})
	return err
}

func (r *LinkRepo) RemoveAll(ctx context.Context, mediaID string) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"media_id": mediaID})
	return err
}

func (r *LinkRepo) ByParent(ctx context.Context, parentType, parentID string) ([]Link, error) {
	cur, err := r.col.Find(ctx, bson.M{"parent_type": parentType, "parent_id": parentID})
	if err != nil {
		return nil, err
	}
	var out []Link
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
