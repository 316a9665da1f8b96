package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/suffus/reedi-media-service/internal/auth"
	"github.com/suffus/reedi-media-service/internal/httputil"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/storage"
	"github.com/suffus/reedi-media-service/internal/uploads"
)

type UploadHandler struct {
	intake      *uploads.Intake
	coordinator *uploads.Coordinator
}

func NewUploadHandler(intake *uploads.Intake, coordinator *uploads.Coordinator) *UploadHandler {
	return &UploadHandler{intake: intake, coordinator: coordinator}
}

// requestFromForm reads the descriptive metadata fields shared by both
// upload paths out of multipart form values.
func requestFromForm(c *fiber.Ctx) uploads.Request {
	req := uploads.Request{
		AltText:    c.FormValue("altText"),
		Caption:    c.FormValue("caption"),
		Visibility: media.Visibility(strings.ToUpper(c.FormValue("visibility"))),
		GalleryID:  c.FormValue("galleryId"),
		PostID:     c.FormValue("postId"),
		MessageID:  c.FormValue("messageId"),
	}
	if tags := c.FormValue("tags"); tags != "" {
		req.Tags = strings.Split(tags, ",")
	}
	if zo := c.FormValue("zipOptions"); zo != "" {
		var opts media.ZipOptions
		if err := json.Unmarshal([]byte(zo), &opts); err == nil {
			req.ZipOptions = &opts
		}
	}
	return req
}

// POST /media/upload  (multipart/form-data, field "file")
func (h *UploadHandler) SingleShot(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return httputil.JSONError(c, fiber.StatusBadRequest, "file field missing")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return httputil.JSONError(c, fiber.StatusBadRequest, "cannot open file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return httputil.JSONError(c, fiber.StatusBadRequest, "cannot read file")
	}

	req := requestFromForm(c)
	req.Filename = fileHeader.Filename
	req.ContentType = fileHeader.Header.Get("Content-Type")
	if req.ContentType == "" {
		req.ContentType = http.DetectContentType(data)
	}

	m, err := h.intake.SingleShot(c.Context(), auth.UserID(c), req, data)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusCreated, m)
}

type initiateRequest struct {
	Filename    string            `json:"filename"`
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata"`
}

// POST /media/upload/initiate
func (h *UploadHandler) Initiate(c *fiber.Ctx) error {
	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.JSONError(c, fiber.StatusBadRequest, "malformed body")
	}
	res, err := h.coordinator.Initiate(c.Context(), auth.UserID(c),
		req.Filename, req.ContentType, req.Size, req.Metadata)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusCreated, res)
}

// POST /media/upload/chunk?key=...&uploadId=...&partNumber=N
// The raw chunk travels as the request body.
func (h *UploadHandler) Chunk(c *fiber.Ctx) error {
	key := c.Query("key")
	uploadID := c.Query("uploadId")
	partNumber := c.QueryInt("partNumber")
	if key == "" || uploadID == "" || partNumber < 1 {
		return httputil.JSONError(c, fiber.StatusBadRequest, "key, uploadId and partNumber are required")
	}
	eTag, err := h.coordinator.UploadPart(c.Context(), auth.UserID(c), key, uploadID, int32(partNumber), c.Body())
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, fiber.Map{"partNumber": partNumber, "eTag": eTag})
}

type partPayload struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"eTag"`
}

type completeRequest struct {
	Key      string          `json:"key"`
	UploadID string          `json:"uploadId"`
	Parts    []partPayload   `json:"parts"`
	Media    uploads.Request `json:"media"`
}

// POST /media/upload/complete
func (h *UploadHandler) Complete(c *fiber.Ctx) error {
	var req completeRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.JSONError(c, fiber.StatusBadRequest, "malformed body")
	}
	parts := make([]storage.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, storage.Part{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	sess, err := h.coordinator.Complete(c.Context(), auth.UserID(c), req.Key, req.UploadID, parts)
	if err != nil {
		return httputil.Error(c, err)
	}
	m, err := h.intake.FinalizeChunked(c.Context(), sess, req.Media)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusCreated, m)
}

type abortRequest struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
}

// POST /media/upload/abort
func (h *UploadHandler) Abort(c *fiber.Ctx) error {
	var req abortRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.JSONError(c, fiber.StatusBadRequest, "malformed body")
	}
	if err := h.coordinator.Abort(c.Context(), auth.UserID(c), req.Key, req.UploadID); err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, fiber.Map{"aborted": req.UploadID})
}
