package uploads

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/repository"
	"github.com/suffus/reedi-media-service/internal/storage"
)

type fakeMediaStore struct {
	repository.MediaStore
	inserted []*media.Media
}

func (f *fakeMediaStore) Insert(ctx context.Context, m *media.Media) error {
	f.inserted = append(f.inserted, m)
	return nil
}

type fakeLinkStore struct {
	repository.LinkStore
	links []repository.Link
}

func (f *fakeLinkStore) SetParent(ctx context.Context, l repository.Link) error {
	f.links = append(f.links, l)
	return nil
}

type recordingDispatcher struct {
	dispatched []*media.Media
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, m *media.Media) {
	d.dispatched = append(d.dispatched, m)
}

func newTestIntake(t *testing.T) (*Intake, *fakeMediaStore, *fakeLinkStore, *storage.Memory, *recordingDispatcher) {
	t.Helper()
	repo := &fakeMediaStore{}
	links := &fakeLinkStore{}
	blobs := storage.NewMemory()
	disp := &recordingDispatcher{}
	in := NewIntake(repo, links, blobs, disp, 1<<20, zap.NewNop().Sugar())
	return in, repo, links, blobs, disp
}

func TestSingleShotCreatesPendingMedia(t *testing.T) {
	in, repo, links, blobs, disp := newTestIntake(t)
	ctx := context.Background()

	m, err := in.SingleShot(ctx, "alice", Request{
		Filename:    "cat.jpg",
		ContentType: "image/jpeg",
		Tags:        []string{"cats"},
		GalleryID:   "g1",
	}, []byte("jpegbytes"))
	require.NoError(t, err)

	assert.Equal(t, media.TypeImage, m.MediaType)
	assert.Equal(t, media.StatusPending, m.Status)
	assert.Equal(t, "alice", m.AuthorID)
	assert.NotEmpty(t, m.StorageKey)
	assert.True(t, blobs.Has(m.StorageKey), "original bytes stored")
	assert.True(t, m.Technical.IsZero(), "technical metadata left empty")
	assert.Equal(t, media.VisibilityPrivate, m.Visible, "visibility defaults private")

	require.Len(t, repo.inserted, 1)
	require.Len(t, disp.dispatched, 1)
	assert.Equal(t, m.ID, disp.dispatched[0].ID)
	require.Len(t, links.links, 1)
	assert.Equal(t, repository.ParentGallery, links.links[0].ParentType)
}

func TestSingleShotRejectsUnsupportedType(t *testing.T) {
	in, repo, _, _, disp := newTestIntake(t)
	_, err := in.SingleShot(context.Background(), "alice", Request{
		Filename:    "doc.pdf",
		ContentType: "application/pdf",
	}, []byte("%PDF"))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedMediaType)
	assert.Empty(t, repo.inserted)
	assert.Empty(t, disp.dispatched)
}

func TestSingleShotEnforcesByteCeiling(t *testing.T) {
	in, _, _, _, _ := newTestIntake(t)
	big := make([]byte, (1<<20)+1)
	_, err := in.SingleShot(context.Background(), "alice", Request{
		Filename:    "big.jpg",
		ContentType: "image/jpeg",
	}, big)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFinalizeChunkedUsesSessionFacts(t *testing.T) {
	in, _, _, _, disp := newTestIntake(t)
	sess := &Session{
		UploadID:     "u1",
		Key:          "alice/123_clip.mp4",
		OwnerID:      "alice",
		Filename:     "clip.mp4",
		ContentType:  "video/mp4",
		DeclaredSize: 50 << 20,
	}
	m, err := in.FinalizeChunked(context.Background(), sess, Request{Caption: "holiday"})
	require.NoError(t, err)
	assert.Equal(t, media.TypeVideo, m.MediaType)
	assert.Equal(t, media.StatusPending, m.Status)
	assert.Equal(t, sess.Key, m.StorageKey)
	assert.Equal(t, int64(50<<20), m.Size)
	assert.Equal(t, "clip.mp4", m.Filename)
	assert.Equal(t, "holiday", m.Caption)
	require.Len(t, disp.dispatched, 1)
}
