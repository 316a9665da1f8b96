// Package repository implements the persistent stores over mongo
// collections. Interfaces are defined here so service and processing tests
// can substitute fakes.
package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/media"
)

// ListFilter narrows a per-author listing. Zero values mean "no constraint".
type ListFilter struct {
	Tags            []string
	MediaType       media.Type
	Visibility      media.Visibility
	Status          media.Status
	From, To        time.Time
	GalleryID       string
	UnorganizedOnly bool
}

type MediaStore interface {
	Insert(ctx context.Context, m *media.Media) error
	GetByID(ctx context.Context, id string) (*media.Media, error)
	GetMany(ctx context.Context, ids []string) ([]*media.Media, error)
	Replace(ctx context.Context, m *media.Media) error
	// ReplaceIfStatus writes m only while the stored document still has the
	// given status; apperr.ErrNotFound signals the guard did not match.
	ReplaceIfStatus(ctx context.Context, m *media.Media, from media.Status) error
	Delete(ctx context.Context, id string) error
	ListByAuthor(ctx context.Context, authorID string, f ListFilter) ([]*media.Media, error)
	ByOrigin(ctx context.Context, originID string) ([]*media.Media, error)
	DetachChildren(ctx context.Context, originID string) error
}

type MediaRepo struct {
	col *mongo.Collection
}

func NewMediaRepo(col *mongo.Collection) *MediaRepo {
	return &MediaRepo{col: col}
}

// EnsureIndexes creates the indexed lookups the listing paths rely on.
func (r *MediaRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "author_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "gallery_id", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "visibility", Value: 1}}},
		{Keys: bson.D{{Key: "processing_status", Value: 1}}},
		{Keys: bson.D{{Key: "origin_id", Value: 1}}},
	})
	return err
}

func (r *MediaRepo) Insert(ctx context.Context, m *media.Media) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *MediaRepo) GetByID(ctx context.Context, id string) (*media.Media, error) {
	var m media.Media
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MediaRepo) GetMany(ctx context.Context, ids []string) ([]*media.Media, error) {
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var out []*media.Media
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MediaRepo) Replace(ctx context.Context, m *media.Media) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *MediaRepo) ReplaceIfStatus(ctx context.Context, m *media.Media, from media.Status) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": m.ID, "processing_status": from}, m)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *MediaRepo) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *MediaRepo) ListByAuthor(ctx context.Context, authorID string, f ListFilter) ([]*media.Media, error) {
	q := bson.M{"author_id": authorID}
	if len(f.Tags) > 0 {
		q["tags"] = bson.M{"$all": f.Tags}
	}
	if f.MediaType != "" {
		q["media_type"] = f.MediaType
	}
	if f.Visibility != "" {
		q["visibility"] = f.Visibility
	}
	if f.Status != "" {
		q["processing_status"] = f.Status
	}
	if f.GalleryID != "" {
		q["gallery_id"] = f.GalleryID
	}
	if f.UnorganizedOnly {
		q["gallery_id"] = bson.M{"$in": bson.A{nil, ""}}
		q["post_id"] = bson.M{"$in": bson.A{nil, ""}}
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		rng := bson.M{}
		if !f.From.IsZero() {
			rng["$gte"] = f.From
		}
		if !f.To.IsZero() {
			rng["$lte"] = f.To
		}
		q["created_at"] = rng
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.col.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	var out []*media.Media
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MediaRepo) ByOrigin(ctx context.Context, originID string) ([]*media.Media, error) {
	cur, err := r.col.Find(ctx, bson.M{"origin_id": originID})
	if err != nil {
		return nil, err
	}
	var out []*media.Media
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DetachChildren clears origin_id on every item extracted from the given
// zip. Extracted items survive the parent's deletion as first-class media.
func (r *MediaRepo) DetachChildren(ctx context.Context, originID string) error {
	_, err := r.col.UpdateMany(ctx,
		bson.M{"origin_id": originID},
		bson.M{"$unset": bson.M{"origin_id": ""}, "$set": bson.M{"updated_at": time.Now().UTC()}})
	return err
}
