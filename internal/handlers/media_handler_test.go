package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/auth"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/permissions"
	"github.com/suffus/reedi-media-service/internal/processing"
	"github.com/suffus/reedi-media-service/internal/repository"
	"github.com/suffus/reedi-media-service/internal/service"
	"github.com/suffus/reedi-media-service/internal/storage"
	"github.com/suffus/reedi-media-service/internal/uploads"
)

const testSecret = "test-secret"

type memMediaStore struct {
	repository.MediaStore
	items map[string]*media.Media
}

func (f *memMediaStore) Insert(ctx context.Context, m *media.Media) error {
	cp := *m
	f.items[m.ID] = &cp
	return nil
}

func (f *memMediaStore) GetByID(ctx context.Context, id string) (*media.Media, error) {
	m, ok := f.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *memMediaStore) Replace(ctx context.Context, m *media.Media) error {
	cp := *m
	f.items[m.ID] = &cp
	return nil
}

func (f *memMediaStore) ReplaceIfStatus(ctx context.Context, m *media.Media, from media.Status) error {
	cur, ok := f.items[m.ID]
	if !ok || cur.Status != from {
		return apperr.ErrNotFound
	}
	cp := *m
	f.items[m.ID] = &cp
	return nil
}

type memLinkStore struct {
	repository.LinkStore
}

func (memLinkStore) SetParent(ctx context.Context, l repository.Link) error { return nil }

func (memLinkStore) RemoveParent(ctx context.Context, id, parent string) error { return nil }

func (memLinkStore) RemoveAll(ctx context.Context, id string) error { return nil }

type noFriends struct{}

func (noFriends) Accepted(ctx context.Context, a, b string) (bool, error) { return false, nil }

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func newTestApp(t *testing.T) (*fiber.App, *memMediaStore, *storage.Memory) {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := &memMediaStore{items: make(map[string]*media.Media)}
	links := memLinkStore{}
	blobs := storage.NewMemory()
	sessions := uploads.NewMemorySessionStore(time.Hour)
	perms := permissions.NewFilter(noFriends{}, nil)
	dispatcher := processing.NewDispatcher(store, perms, nil, processing.ProgressOptions{}, log)
	coordinator := uploads.NewCoordinator(blobs, sessions, uploads.CoordinatorConfig{ChunkSize: 5 << 20, MaxConcurrency: 4}, log)
	intake := uploads.NewIntake(store, links, blobs, dispatcher, 10<<20, log)
	svc := service.NewMediaService(store, links, blobs, perms, nil, 10*time.Minute, log)

	verifier, err := auth.NewVerifier("", testSecret)
	require.NoError(t, err)

	app := fiber.New()
	uh := NewUploadHandler(intake, coordinator)
	mh := NewMediaHandler(svc, dispatcher)
	up := app.Group("/media/upload", auth.Required(verifier))
	up.Post("/", uh.SingleShot)
	up.Post("/initiate", uh.Initiate)
	up.Post("/chunk", uh.Chunk)
	up.Post("/complete", uh.Complete)
	up.Post("/abort", uh.Abort)
	app.Get("/media/:id", auth.Optional(verifier), mh.Get)
	app.Post("/media/:id/reprocess", auth.Required(verifier), mh.Reprocess)
	return app, store, blobs
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
	hdr["Content-Type"] = []string{contentType}
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeData(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestSingleShotUploadEndpoint(t *testing.T) {
	app, _, blobs := newTestApp(t)

	body, ct := multipartBody(t, "cat.jpg", "image/jpeg", []byte("fakejpeg"))
	req := httptest.NewRequest(http.MethodPost, "/media/upload/", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var m media.Media
	decodeData(t, resp, &m)
	assert.Equal(t, media.TypeImage, m.MediaType)
	assert.Equal(t, media.StatusPending, m.Status)
	assert.Equal(t, "alice", m.AuthorID)
	assert.True(t, blobs.Has(m.StorageKey))
}

func TestSingleShotUploadRequiresAuth(t *testing.T) {
	app, _, _ := newTestApp(t)
	body, ct := multipartBody(t, "cat.jpg", "image/jpeg", []byte("fakejpeg"))
	req := httptest.NewRequest(http.MethodPost, "/media/upload/", body)
	req.Header.Set("Content-Type", ct)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSingleShotUploadUnsupportedType(t *testing.T) {
	app, _, _ := newTestApp(t)
	body, ct := multipartBody(t, "doc.pdf", "application/pdf", []byte("%PDF"))
	req := httptest.NewRequest(http.MethodPost, "/media/upload/", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestGetAppliesVisibility(t *testing.T) {
	app, store, _ := newTestApp(t)
	store.items["m1"] = &media.Media{
		ID: "m1", AuthorID: "alice", Visible: media.VisibilityPrivate,
		MediaType: media.TypeImage, Status: media.StatusCompleted,
	}

	req := httptest.NewRequest(http.MethodGet, "/media/m1", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/media/m1", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "bob"))
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/media/ghost", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestReprocessEndpointStateGuard(t *testing.T) {
	app, store, _ := newTestApp(t)
	store.items["m1"] = &media.Media{
		ID: "m1", AuthorID: "alice", Visible: media.VisibilityPrivate,
		MediaType: media.TypeImage, Status: media.StatusCompleted,
	}
	store.items["m2"] = &media.Media{
		ID: "m2", AuthorID: "alice", Visible: media.VisibilityPrivate,
		MediaType: media.TypeImage, Status: media.StatusFailed,
	}

	req := httptest.NewRequest(http.MethodPost, "/media/m1/reprocess", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode, "completed media is not reprocessable")

	req = httptest.NewRequest(http.MethodPost, "/media/m2/reprocess", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var m media.Media
	decodeData(t, resp, &m)
	assert.Equal(t, media.StatusPending, m.Status)

	req = httptest.NewRequest(http.MethodPost, "/media/m2/reprocess", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "bob"))
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestChunkedUploadEndToEnd(t *testing.T) {
	app, _, blobs := newTestApp(t)
	authHeader := "Bearer " + token(t, "alice")

	// initiate
	initBody, _ := json.Marshal(map[string]interface{}{
		"filename": "clip.mp4", "contentType": "video/mp4", "size": 11,
	})
	req := httptest.NewRequest(http.MethodPost, "/media/upload/initiate", bytes.NewReader(initBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var init uploads.InitiateResult
	decodeData(t, resp, &init)
	require.NotEmpty(t, init.UploadID)

	// two chunks
	var parts []map[string]interface{}
	for i, chunk := range []string{"hello ", "world"} {
		url := fmt.Sprintf("/media/upload/chunk?key=%s&uploadId=%s&partNumber=%d", init.Key, init.UploadID, i+1)
		req = httptest.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(chunk)))
		req.Header.Set("Authorization", authHeader)
		resp, err = app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var pr struct {
			PartNumber int32  `json:"partNumber"`
			ETag       string `json:"eTag"`
		}
		decodeData(t, resp, &pr)
		parts = append(parts, map[string]interface{}{"partNumber": pr.PartNumber, "eTag": pr.ETag})
	}

	// complete
	compBody, _ := json.Marshal(map[string]interface{}{
		"key": init.Key, "uploadId": init.UploadID, "parts": parts,
		"media": map[string]interface{}{"caption": "holiday"},
	})
	req = httptest.NewRequest(http.MethodPost, "/media/upload/complete", bytes.NewReader(compBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var m media.Media
	decodeData(t, resp, &m)
	assert.Equal(t, media.TypeVideo, m.MediaType)
	assert.Equal(t, media.StatusPending, m.Status)
	assert.Equal(t, "holiday", m.Caption)
	assert.True(t, blobs.Has(init.Key))

	// session retired: abort is still a no-op success
	abortBody, _ := json.Marshal(map[string]string{"key": init.Key, "uploadId": init.UploadID})
	req = httptest.NewRequest(http.MethodPost, "/media/upload/abort", bytes.NewReader(abortBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestChunkedUploadForeignSessionRejected(t *testing.T) {
	app, _, blobs := newTestApp(t)
	aliceAuth := "Bearer " + token(t, "alice")
	bobAuth := "Bearer " + token(t, "bob")

	initBody, _ := json.Marshal(map[string]interface{}{
		"filename": "clip.mp4", "contentType": "video/mp4", "size": 5,
	})
	req := httptest.NewRequest(http.MethodPost, "/media/upload/initiate", bytes.NewReader(initBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", aliceAuth)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var init uploads.InitiateResult
	decodeData(t, resp, &init)

	chunkURL := fmt.Sprintf("/media/upload/chunk?key=%s&uploadId=%s&partNumber=1", init.Key, init.UploadID)
	req = httptest.NewRequest(http.MethodPost, chunkURL, bytes.NewReader([]byte("hello")))
	req.Header.Set("Authorization", aliceAuth)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var pr struct {
		PartNumber int32  `json:"partNumber"`
		ETag       string `json:"eTag"`
	}
	decodeData(t, resp, &pr)

	// bob cannot inject a part into alice's session
	injectURL := fmt.Sprintf("/media/upload/chunk?key=%s&uploadId=%s&partNumber=99", init.Key, init.UploadID)
	req = httptest.NewRequest(http.MethodPost, injectURL, bytes.NewReader([]byte("junk")))
	req.Header.Set("Authorization", bobAuth)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// bob cannot complete it either, and no blob may be assembled
	compBody, _ := json.Marshal(map[string]interface{}{
		"key": init.Key, "uploadId": init.UploadID,
		"parts": []map[string]interface{}{{"partNumber": pr.PartNumber, "eTag": pr.ETag}},
	})
	req = httptest.NewRequest(http.MethodPost, "/media/upload/complete", bytes.NewReader(compBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bobAuth)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.False(t, blobs.Has(init.Key), "foreign complete must not assemble the blob")

	// nor abort it out from under her
	abortBody, _ := json.Marshal(map[string]string{"key": init.Key, "uploadId": init.UploadID})
	req = httptest.NewRequest(http.MethodPost, "/media/upload/abort", bytes.NewReader(abortBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bobAuth)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// alice's session survived all of it and completes cleanly
	req = httptest.NewRequest(http.MethodPost, "/media/upload/complete", bytes.NewReader(compBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", aliceAuth)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var m media.Media
	decodeData(t, resp, &m)
	assert.Equal(t, "alice", m.AuthorID)
	assert.True(t, blobs.Has(init.Key))
}
