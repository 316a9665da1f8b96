package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/permissions"
	"github.com/suffus/reedi-media-service/internal/repository"
	"github.com/suffus/reedi-media-service/internal/storage"
)

type fakeMediaStore struct {
	repository.MediaStore
	items map[string]*media.Media
}

func newFakeMediaStore(items ...*media.Media) *fakeMediaStore {
	f := &fakeMediaStore{items: make(map[string]*media.Media)}
	for _, m := range items {
		cp := *m
		f.items[m.ID] = &cp
	}
	return f
}

func (f *fakeMediaStore) GetByID(ctx context.Context, id string) (*media.Media, error) {
	m, ok := f.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMediaStore) GetMany(ctx context.Context, ids []string) ([]*media.Media, error) {
	var out []*media.Media
	for _, id := range ids {
		if m, ok := f.items[id]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMediaStore) Replace(ctx context.Context, m *media.Media) error {
	if _, ok := f.items[m.ID]; !ok {
		return apperr.ErrNotFound
	}
	cp := *m
	f.items[m.ID] = &cp
	return nil
}

func (f *fakeMediaStore) Delete(ctx context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeMediaStore) ListByAuthor(ctx context.Context, authorID string, lf repository.ListFilter) ([]*media.Media, error) {
	var out []*media.Media
	for _, m := range f.items {
		if m.AuthorID != authorID {
			continue
		}
		if lf.MediaType != "" && m.MediaType != lf.MediaType {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMediaStore) DetachChildren(ctx context.Context, originID string) error {
	for _, m := range f.items {
		if m.OriginID == originID {
			m.OriginID = ""
		}
	}
	return nil
}

type fakeLinkStore struct {
	repository.LinkStore
	links map[string][]repository.Link // mediaID -> links
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{links: make(map[string][]repository.Link)}
}

func (f *fakeLinkStore) SetParent(ctx context.Context, l repository.Link) error {
	kept := f.links[l.MediaID][:0]
	for _, ex := range f.links[l.MediaID] {
		if ex.ParentType != l.ParentType {
			kept = append(kept, ex)
		}
	}
	f.links[l.MediaID] = append(kept, l)
	return nil
}

func (f *fakeLinkStore) RemoveParent(ctx context.Context, mediaID, parentType string) error {
	kept := f.links[mediaID][:0]
	for _, ex := range f.links[mediaID] {
		if ex.ParentType != parentType {
			kept = append(kept, ex)
		}
	}
	f.links[mediaID] = kept
	return nil
}

func (f *fakeLinkStore) RemoveAll(ctx context.Context, mediaID string) error {
	delete(f.links, mediaID)
	return nil
}

type noFriends struct{}

func (noFriends) Accepted(ctx context.Context, a, b string) (bool, error) { return false, nil }

func newTestService(store *fakeMediaStore, links *fakeLinkStore, blobs storage.BlobStore) *MediaService {
	perms := permissions.NewFilter(noFriends{}, nil)
	return NewMediaService(store, links, blobs, perms, nil, 10*time.Minute, zap.NewNop().Sugar())
}

func item(id, owner string, v media.Visibility) *media.Media {
	return &media.Media{
		ID:         id,
		AuthorID:   owner,
		MediaType:  media.TypeImage,
		Status:     media.StatusCompleted,
		Visible:    v,
		StorageKey: owner + "/" + id,
		Tags:       []string{"old"},
	}
}

func TestGetAppliesVisibility(t *testing.T) {
	store := newFakeMediaStore(item("m1", "alice", media.VisibilityPrivate))
	svc := newTestService(store, newFakeLinkStore(), storage.NewMemory())
	ctx := context.Background()

	m, err := svc.Get(ctx, "alice", "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)

	_, err = svc.Get(ctx, "bob", "m1")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	var perm *apperr.PermissionError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "private", perm.Reason)

	_, err = svc.Get(ctx, "alice", "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateTagSemantics(t *testing.T) {
	store := newFakeMediaStore(item("m1", "alice", media.VisibilityPublic))
	svc := newTestService(store, newFakeLinkStore(), storage.NewMemory())
	ctx := context.Background()

	m, err := svc.Update(ctx, "alice", "m1", UpdateRequest{Tags: []string{"new", "new", "old"}, MergeTags: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old", "new"}, m.Tags, "merge keeps existing, dedupes")

	m, err = svc.Update(ctx, "alice", "m1", UpdateRequest{Tags: []string{"only"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, m.Tags, "replace drops prior tags")

	_, err = svc.Update(ctx, "bob", "m1", UpdateRequest{Tags: []string{"x"}})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	vis := media.Visibility("SOMETIMES")
	_, err = svc.Update(ctx, "alice", "m1", UpdateRequest{Visibility: &vis})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateGalleryMembershipIsExclusive(t *testing.T) {
	store := newFakeMediaStore(item("m1", "alice", media.VisibilityPublic))
	links := newFakeLinkStore()
	svc := newTestService(store, links, storage.NewMemory())
	ctx := context.Background()

	g1 := "g1"
	_, err := svc.Update(ctx, "alice", "m1", UpdateRequest{GalleryID: &g1})
	require.NoError(t, err)
	g2 := "g2"
	_, err = svc.Update(ctx, "alice", "m1", UpdateRequest{GalleryID: &g2})
	require.NoError(t, err)

	require.Len(t, links.links["m1"], 1, "membership replaced, not appended")
	assert.Equal(t, "g2", links.links["m1"][0].ParentID)

	none := ""
	m, err := svc.Update(ctx, "alice", "m1", UpdateRequest{GalleryID: &none})
	require.NoError(t, err)
	assert.Empty(t, m.GalleryID)
	assert.Empty(t, links.links["m1"])
}

func TestBulkUpdateAllOrNothing(t *testing.T) {
	store := newFakeMediaStore(
		item("m1", "alice", media.VisibilityPublic),
		item("m2", "alice", media.VisibilityPublic),
		item("m3", "bob", media.VisibilityPublic),
	)
	svc := newTestService(store, newFakeLinkStore(), storage.NewMemory())
	ctx := context.Background()
	vis := media.VisibilityPrivate

	_, err := svc.BulkUpdate(ctx, "alice", []string{"m1", "m3"}, UpdateRequest{Visibility: &vis})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	m1, _ := store.GetByID(ctx, "m1")
	assert.Equal(t, media.VisibilityPublic, m1.Visible, "nothing mutated on partial authorization")

	_, err = svc.BulkUpdate(ctx, "alice", []string{"m1", "ghost"}, UpdateRequest{Visibility: &vis})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	m1, _ = store.GetByID(ctx, "m1")
	assert.Equal(t, media.VisibilityPublic, m1.Visible)

	items, err := svc.BulkUpdate(ctx, "alice", []string{"m1", "m2"}, UpdateRequest{Visibility: &vis})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	for _, id := range []string{"m1", "m2"} {
		m, _ := store.GetByID(ctx, id)
		assert.Equal(t, media.VisibilityPrivate, m.Visible)
	}
}

type flakyBlobs struct {
	*storage.Memory
	deleteErr error
	deleted   []string
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Memory.Delete(ctx, key)
}

func TestDeleteCascades(t *testing.T) {
	parent := item("z1", "alice", media.VisibilityPublic)
	parent.MediaType = media.TypeZip
	parent.ThumbnailKey = "alice/z1_thumb"
	child := item("c1", "alice", media.VisibilityPublic)
	child.OriginID = "z1"

	store := newFakeMediaStore(parent, child)
	links := newFakeLinkStore()
	links.links["z1"] = []repository.Link{{MediaID: "z1", ParentType: repository.ParentGallery, ParentID: "g1"}}
	blobs := &flakyBlobs{Memory: storage.NewMemory()}
	svc := newTestService(store, links, blobs)
	ctx := context.Background()

	require.ErrorIs(t, svc.Delete(ctx, "bob", "z1"), apperr.ErrPermissionDenied)

	require.NoError(t, svc.Delete(ctx, "alice", "z1"))
	_, err := store.GetByID(ctx, "z1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, links.links["z1"], "gallery membership removed")
	c, err := store.GetByID(ctx, "c1")
	require.NoError(t, err, "zip children survive")
	assert.Empty(t, c.OriginID, "children detached from deleted parent")
	assert.ElementsMatch(t, []string{"alice/z1", "alice/z1_thumb"}, blobs.deleted)
}

func TestDeleteSurvivesBlobFailure(t *testing.T) {
	store := newFakeMediaStore(item("m1", "alice", media.VisibilityPublic))
	blobs := &flakyBlobs{Memory: storage.NewMemory(), deleteErr: errors.New("s3 down")}
	svc := newTestService(store, newFakeLinkStore(), blobs)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, "alice", "m1"), "record deletion wins over blob cleanup")
	_, err := store.GetByID(ctx, "m1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListFiltersBeforePagination(t *testing.T) {
	// alice has 5 items, 3 visible to strangers
	store := newFakeMediaStore(
		item("m1", "alice", media.VisibilityPublic),
		item("m2", "alice", media.VisibilityPrivate),
		item("m3", "alice", media.VisibilityPublic),
		item("m4", "alice", media.VisibilityFriendsOnly),
		item("m5", "alice", media.VisibilityPublic),
	)
	svc := newTestService(store, newFakeLinkStore(), storage.NewMemory())
	ctx := context.Background()

	var collected []string
	page := 1
	for {
		p, err := svc.ListByAuthor(ctx, "carol", "alice", repository.ListFilter{}, page, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, p.Total, "total reflects the visible set")
		assert.Equal(t, 2, p.TotalPages)
		for _, m := range p.Items {
			collected = append(collected, m.ID)
		}
		if page >= p.TotalPages {
			break
		}
		page++
	}
	assert.Equal(t, []string{"m1", "m3", "m5"}, collected, "no hidden item leaks across page boundaries")

	// the owner sees everything
	p, err := svc.ListByAuthor(ctx, "alice", "alice", repository.ListFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Total)
}

func TestDownloadURLVariants(t *testing.T) {
	m := item("m1", "alice", media.VisibilityPublic)
	m.ThumbnailKey = "alice/m1_thumb"
	store := newFakeMediaStore(m)
	svc := newTestService(store, newFakeLinkStore(), storage.NewMemory())
	ctx := context.Background()

	url, err := svc.DownloadURL(ctx, "", "m1", "")
	require.NoError(t, err)
	assert.Equal(t, "memory://alice/m1", url)

	url, err = svc.DownloadURL(ctx, "", "m1", "thumbnail")
	require.NoError(t, err)
	assert.Equal(t, "memory://alice/m1_thumb", url)

	_, err = svc.DownloadURL(ctx, "", "m1", "transcoded")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "no transcoded variant exists")
	_, err = svc.DownloadURL(ctx, "", "m1", "weird")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
