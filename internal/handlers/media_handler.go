// Package handlers is the fiber layer: decode the request, call the
// service, translate errors. Validation beyond basic shape stays here thin
// on purpose.
package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/suffus/reedi-media-service/internal/auth"
	"github.com/suffus/reedi-media-service/internal/httputil"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/processing"
	"github.com/suffus/reedi-media-service/internal/repository"
	"github.com/suffus/reedi-media-service/internal/service"
)

type MediaHandler struct {
	svc        *service.MediaService
	dispatcher *processing.Dispatcher
}

func NewMediaHandler(svc *service.MediaService, dispatcher *processing.Dispatcher) *MediaHandler {
	return &MediaHandler{svc: svc, dispatcher: dispatcher}
}

// GET /media/:id
func (h *MediaHandler) Get(c *fiber.Ctx) error {
	m, err := h.svc.Get(c.Context(), auth.UserID(c), c.Params("id"))
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, m)
}

// PUT /media/:id
func (h *MediaHandler) Update(c *fiber.Ctx) error {
	var req service.UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.JSONError(c, fiber.StatusBadRequest, "malformed body")
	}
	m, err := h.svc.Update(c.Context(), auth.UserID(c), c.Params("id"), req)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, m)
}

// DELETE /media/:id
func (h *MediaHandler) Delete(c *fiber.Ctx) error {
	if err := h.svc.Delete(c.Context(), auth.UserID(c), c.Params("id")); err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, fiber.Map{"deleted": c.Params("id")})
}

type bulkUpdateRequest struct {
	IDs    []string              `json:"ids"`
	Update service.UpdateRequest `json:"update"`
}

// PUT /media/bulk/update
func (h *MediaHandler) BulkUpdate(c *fiber.Ctx) error {
	var req bulkUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.JSONError(c, fiber.StatusBadRequest, "malformed body")
	}
	items, err := h.svc.BulkUpdate(c.Context(), auth.UserID(c), req.IDs, req.Update)
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, items)
}

// POST /media/:id/reprocess
func (h *MediaHandler) Reprocess(c *fiber.Ctx) error {
	m, err := h.dispatcher.Reprocess(c.Context(), auth.UserID(c), c.Params("id"))
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, m)
}

// GET /media/user/:userId
func (h *MediaHandler) ListByUser(c *fiber.Ctx) error {
	f := repository.ListFilter{
		MediaType:       media.Type(strings.ToUpper(c.Query("type"))),
		Visibility:      media.Visibility(strings.ToUpper(c.Query("visibility"))),
		Status:          media.Status(strings.ToUpper(c.Query("status"))),
		GalleryID:       c.Query("galleryId"),
		UnorganizedOnly: c.QueryBool("unorganized"),
	}
	if tags := c.Query("tags"); tags != "" {
		f.Tags = strings.Split(tags, ",")
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			f.From = t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			f.To = t
		}
	}
	page, err := h.svc.ListByAuthor(c.Context(), auth.UserID(c), c.Params("userId"),
		f, c.QueryInt("page", 1), c.QueryInt("limit", 20))
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, page)
}

// GET /media/:id/url?variant=original|thumbnail|transcoded
func (h *MediaHandler) DownloadURL(c *fiber.Ctx) error {
	url, err := h.svc.DownloadURL(c.Context(), auth.UserID(c), c.Params("id"), c.Query("variant"))
	if err != nil {
		return httputil.Error(c, err)
	}
	return httputil.JSONSuccess(c, fiber.StatusOK, fiber.Map{"url": url})
}
