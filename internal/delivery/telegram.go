package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	telegramMessageLimit   = 4096
)

// Messenger replies to a chat.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramClient calls the Bot API sendMessage method.
type TelegramClient struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type telegramSendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramAPIResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewTelegramClient requires a "<id>:<secret>" bot token.
func NewTelegramClient(token, baseURL string, logger *zap.Logger) (*TelegramClient, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, errors.New("delivery: invalid telegram bot token format")
	}
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramClient{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}, nil
}

// SendMessage posts text to the chat, truncated to the Telegram limit.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	if runes := []rune(text); len(runes) > telegramMessageLimit {
		text = string(runes[:telegramMessageLimit])
	}
	payload, err := json.Marshal(telegramSendMessageRequest{ChatID: chatID, Text: text, DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("delivery: encode telegram message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("delivery: build telegram request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("delivery: telegram request: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 4096))
	if err != nil {
		return fmt.Errorf("delivery: read telegram response: %w", err)
	}
	var apiResponse telegramAPIResponse
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return fmt.Errorf("delivery: decode telegram response (status %d): %w", response.StatusCode, err)
	}
	if !apiResponse.OK {
		c.logger.Warn("telegram rejected message",
			zap.Int64("chat_id", chatID),
			zap.Int("error_code", apiResponse.ErrorCode),
			zap.String("description", apiResponse.Description))
		return fmt.Errorf("delivery: telegram error %d: %s", apiResponse.ErrorCode, apiResponse.Description)
	}
	return nil
}

// DisabledMessenger stands in when no bot token is configured.
type DisabledMessenger struct {
	Logger *zap.Logger
}

// SendMessage logs and reports ErrDisabled.
func (d DisabledMessenger) SendMessage(ctx context.Context, chatID int64, text string) error {
	if d.Logger != nil {
		d.Logger.Info("telegram reply skipped: bot disabled", zap.Int64("chat_id", chatID))
	}
	return fmt.Errorf("telegram: %w", ErrDisabled)
}
