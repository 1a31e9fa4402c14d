package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/schoolbot/backend/internal/delivery"
	"github.com/schoolbot/backend/internal/pipeline"
	"github.com/schoolbot/backend/pkg/logger"
)

const telegramWelcome = "Здравствуйте! Я нейро-консультант школы. 🌟\n" +
	"Задайте свой вопрос, и я отвечу на основе знаний школы."

// MessageHandler accepts inbound messages from the channel webhooks and a
// generic submit endpoint. Webhooks answer immediately; the pipeline runs in
// the background because both Jivo and Telegram expect a fast 200.
type MessageHandler struct {
	composer *pipeline.Composer
	senders  *delivery.Registry
}

func NewMessageHandler(composer *pipeline.Composer, senders *delivery.Registry) *MessageHandler {
	return &MessageHandler{composer: composer, senders: senders}
}

// Submit handles POST /api/v1/messages — the channel-agnostic entry point.
func (h *MessageHandler) Submit(c *fiber.Ctx) error {
	var req struct {
		UserID  string `json:"user_id"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id and text are required",
		})
	}

	channel := delivery.Channel(req.Channel)
	if channel != delivery.ChannelTelegram && channel != delivery.ChannelJivo {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("unknown channel %q", req.Channel),
		})
	}

	go h.composer.Submit(context.Background(), channel, req.UserID, req.Text)

	return c.JSON(fiber.Map{"status": "accepted"})
}

// JivoWebhook handles POST /api/v1/jivo/webhook.
func (h *MessageHandler) JivoWebhook(c *fiber.Ctx) error {
	var payload struct {
		EventName string `json:"event_name"`
		Message   struct {
			ClientID string `json:"client_id"`
			Text     string `json:"text"`
		} `json:"message"`
	}

	if err := c.BodyParser(&payload); err != nil {
		logger.Warn("Malformed Jivo webhook payload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "error"})
	}

	// Jivo sends presence and typing events too; only chat messages matter.
	if payload.EventName != "chat.message" || payload.Message.Text == "" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	go h.composer.Submit(context.Background(), delivery.ChannelJivo,
		payload.Message.ClientID, payload.Message.Text)

	return c.JSON(fiber.Map{"status": "ok"})
}

// TelegramWebhook handles POST /api/v1/telegram/webhook with Bot API updates.
func (h *MessageHandler) TelegramWebhook(c *fiber.Ctx) error {
	var update struct {
		Message struct {
			Text string `json:"text"`
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	}

	if err := c.BodyParser(&update); err != nil {
		logger.Warn("Malformed Telegram update", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "error"})
	}

	text := update.Message.Text
	if text == "" || update.Message.Chat.ID == 0 {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	chatID := fmt.Sprintf("%d", update.Message.Chat.ID)

	switch {
	case text == "/start":
		go h.reply(chatID, telegramWelcome)
	case text == "/clear_history":
		h.composer.ClearHistory(delivery.ChannelTelegram, chatID)
		go h.reply(chatID, "История нашего диалога очищена. Можем начать с чистого листа!")
	case strings.HasPrefix(text, "/"):
		// Unknown commands are ignored, as the bot always did.
	default:
		go h.composer.Submit(context.Background(), delivery.ChannelTelegram, chatID, text)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *MessageHandler) reply(chatID, text string) {
	if err := h.senders.Send(context.Background(), delivery.ChannelTelegram, chatID, text); err != nil {
		logger.Error("Failed to send telegram service reply", zap.Error(err))
	}
}
