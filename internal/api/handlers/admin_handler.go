package handlers

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/schoolbot/backend/internal/dedup"
	"github.com/schoolbot/backend/internal/delivery"
	"github.com/schoolbot/backend/internal/knowledge"
	"github.com/schoolbot/backend/internal/metrics"
	"github.com/schoolbot/backend/internal/pipeline"
	"github.com/schoolbot/backend/pkg/logger"
)

// AdminHandler exposes the operator control surface: index rebuilds, the
// recorded-question analytics, and manual blacklisting.
type AdminHandler struct {
	index    *knowledge.Index
	dedup    *dedup.Deduplicator
	composer *pipeline.Composer
}

func NewAdminHandler(index *knowledge.Index, d *dedup.Deduplicator, composer *pipeline.Composer) *AdminHandler {
	return &AdminHandler{index: index, dedup: d, composer: composer}
}

// RebuildIndex handles POST /api/v1/admin/rebuild. A failed rebuild leaves
// the previous index serving and reports the reason.
func (h *AdminHandler) RebuildIndex(c *fiber.Ctx) error {
	if err := h.index.Rebuild(c.Context()); err != nil {
		logger.Error("Index rebuild failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	metrics.IndexChunks.Set(float64(h.index.ChunkCount()))

	return c.JSON(fiber.Map{
		"ok":     true,
		"chunks": h.index.ChunkCount(),
	})
}

// ListQuestions handles GET /api/v1/admin/questions, newest first.
func (h *AdminHandler) ListQuestions(c *fiber.Ctx) error {
	questions, err := h.dedup.List(c.Context())
	if err != nil {
		logger.Error("Failed to list recorded questions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list questions",
		})
	}

	return c.JSON(fiber.Map{"questions": questions})
}

// GetQuestion handles GET /api/v1/admin/questions/:id.
func (h *AdminHandler) GetQuestion(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be an integer",
		})
	}

	question, err := h.dedup.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "question not found",
			})
		}
		logger.Error("Failed to get question", zap.Int64("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get question",
		})
	}

	return c.JSON(question)
}

// Blacklist handles POST /api/v1/admin/blacklist/:channel/:user_id. Blocking
// is a manual operator decision; nothing in the pipeline blacklists on its
// own. The channel is part of the route because per-user state is scoped to
// one channel.
func (h *AdminHandler) Blacklist(c *fiber.Ctx) error {
	channel := delivery.Channel(c.Params("channel"))
	if channel != delivery.ChannelTelegram && channel != delivery.ChannelJivo {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "channel must be telegram or jivo",
		})
	}
	userID := c.Params("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	h.composer.Blacklist(channel, userID)
	return c.JSON(fiber.Map{
		"status":  "blacklisted",
		"channel": string(channel),
		"user_id": userID,
	})
}
