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

// JivoSender delivers replies through the Jivo bot API.
type JivoSender struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewJivoSender(baseURL, token string) *JivoSender {
	return &JivoSender{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jivoMessage struct {
	ClientID string `json:"client_id"`
	Message  struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

func (s *JivoSender) Send(ctx context.Context, userID, text string) error {
	payload := jivoMessage{ClientID: userID}
	payload.Message.Type = "text"
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal jivo message: %w", err)
	}

	url := s.baseURL + "/bot/v1/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build jivo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.Error("Jivo delivery failed", zap.String("client_id", userID), zap.Error(err))
		return fmt.Errorf("failed to deliver jivo message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Error("Jivo delivery rejected",
			zap.String("client_id", userID),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("jivo API returned status %d", resp.StatusCode)
	}

	return nil
}
