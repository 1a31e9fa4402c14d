package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/schoolbot/backend/pkg/logger"
)

// TelegramSender delivers replies through the Telegram Bot API sendMessage
// method. userID is the chat id.
type TelegramSender struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewTelegramSender(baseURL, token string) *TelegramSender {
	return &TelegramSender{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *TelegramSender) Send(ctx context.Context, userID, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": userID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.Error("Telegram delivery failed", zap.String("chat_id", userID), zap.Error(err))
		return fmt.Errorf("failed to deliver telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Error("Telegram delivery rejected",
			zap.String("chat_id", userID),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}
