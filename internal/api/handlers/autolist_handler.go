package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/contentpilot/postpilot/internal/autolist"
	"github.com/contentpilot/postpilot/internal/transfer"
)

type AutolistHandler struct {
	s       *autolist.Service
	rotator *autolist.Rotator
}

func NewAutolistHandler(s *autolist.Service, rotator *autolist.Rotator) *AutolistHandler {
	return &AutolistHandler{s: s, rotator: rotator}
}

func (h *AutolistHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.s.Get(c.Context(), c.Params("brand"), c.Params("platform"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if settings == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No autolist for this brand and platform",
		})
	}

	return c.Status(fiber.StatusOK).JSON(settings)
}

func (h *AutolistHandler) AddToQueue(c *fiber.Ctx) error {
	var req transfer.AutolistQueueRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request",
		})
	}

	settings, err := h.s.AddToQueue(c.Context(), req.BrandID, req.Platform, req.ContentID)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, autolist.ErrContentNotFound) || errors.Is(err, autolist.ErrAlreadyQueued) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(settings)
}

func (h *AutolistHandler) RemoveFromQueue(c *fiber.Ctx) error {
	var req transfer.AutolistQueueRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request",
		})
	}

	settings, err := h.s.RemoveFromQueue(c.Context(), req.BrandID, req.Platform, req.ContentID)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, autolist.ErrNotQueued) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(settings)
}

func (h *AutolistHandler) UpdateSettings(c *fiber.Ctx) error {
	var req transfer.AutolistSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request",
		})
	}

	settings, err := h.s.UpdateSettings(c.Context(), req.BrandID, req.Platform,
		req.IsEnabled, req.AutoSchedule, req.PostTimes, req.Timezone)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(settings)
}

// Tick triggers one rotation synchronously, outside the cron sweep.
func (h *AutolistHandler) Tick(c *fiber.Ctx) error {
	result, err := h.rotator.ProcessAutolist(c.Context(), c.Params("brand"), c.Params("platform"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(result)
}
