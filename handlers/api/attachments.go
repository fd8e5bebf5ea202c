package api

import (
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"jobtrail/mailapi"
	"jobtrail/utils"
)

// HandleFolders lists the mail account's folders, the names a client can pass
// to a summary refresh.
func (h *ThreadsHandler) HandleFolders(c *fiber.Ctx) error {
	if h.mail == nil {
		return utils.NewAppError(fiber.StatusServiceUnavailable, "Mail is not configured", nil)
	}

	folders, err := h.mail.ListFolders(c.Context())
	if err != nil {
		return utils.BadGatewayError("Failed to list folders", err)
	}
	if folders == nil {
		folders = []mailapi.FolderInfo{}
	}

	return c.JSON(fiber.Map{
		"folders": folders,
		"count":   len(folders),
	})
}

// HandleAttachment streams one attachment of a thread, fetched from the mail
// server on demand. Only attachment metadata lives in the cache, never the
// content.
func (h *ThreadsHandler) HandleAttachment(c *fiber.Ctx) error {
	id := c.Params("id")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	name := c.Params("filename")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	if id == "" || name == "" {
		return utils.BadRequestError("Thread id and filename are required", nil)
	}

	if h.mail == nil {
		return utils.NewAppError(fiber.StatusServiceUnavailable, "Mail is not configured", nil)
	}

	att, err := h.mail.FetchAttachment(c.Context(), id, name)
	if err != nil {
		h.log.Error("Attachment fetch failed for %s/%s: %v", id, name, err)
		return utils.NotFoundError("Attachment not found", err)
	}

	c.Set("Content-Type", att.ContentType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", att.Filename))
	c.Set("Content-Length", fmt.Sprintf("%d", len(att.Content)))

	return c.Send(att.Content)
}
