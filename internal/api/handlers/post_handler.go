package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/contentpilot/postpilot/internal/service"
	"github.com/contentpilot/postpilot/internal/transfer"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(s service.PostService) *PostHandler {
	return &PostHandler{s: s}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req transfer.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request",
		})
	}

	post, jobID, err := h.s.CreatePost(c.Context(), &req)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, service.ErrContentNotFound) || errors.Is(err, service.ErrNotPublishable) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	slog.Info("publish requested", "user_id", GetUserID(c), "post_id", post.ID, "platform", post.Platform)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post scheduled successfully",
		"post":    post,
		"job_id":  jobID,
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	brandID := c.Query("brand_id")

	posts, err := h.s.List(c.Context(), brandID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) PostStatus(c *fiber.Ctx) error {
	status, err := h.s.Status(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Post doesn't exist",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	cancelled, err := h.s.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Post doesn't exist",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Post can no longer be cancelled",
		})
	}

	slog.Info("post cancelled", "user_id", GetUserID(c), "post_id", c.Params("id"))

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post cancelled",
	})
}

func (h *PostHandler) QueueCounts(c *fiber.Ctx) error {
	counts, err := h.s.Counts()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to read queue counts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(counts)
}

func (h *PostHandler) RefreshMetrics(c *fiber.Ctx) error {
	post, err := h.s.RefreshMetrics(c.Context(), c.Params("id"))
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, service.ErrPostNotFound) {
			status = fiber.StatusNotFound
		} else if errors.Is(err, service.ErrNotPublished) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(post)
}
