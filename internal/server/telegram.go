package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/delivery"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	telegramHelpText     = "Welcome! Use /sync to refresh the word lists or /batch [list] to send today's batch."
	telegramSyncMissing  = "Sync is not configured."
)

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	Text string       `json:"text"`
	Chat telegramChat `json:"chat"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

// handleTelegramWebhook answers 200 for every authenticated update so Telegram does not redeliver it.
func (h *httpHandler) handleTelegramWebhook(c *gin.Context) {
	secret := c.GetHeader(telegramSecretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.telegram.WebhookSecret)) != 1 {
		h.logger.Warn("telegram webhook rejected: secret mismatch")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var update telegramUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Info("telegram update ignored: malformed body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" || update.Message.Chat.ID == 0 {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	chatID := update.Message.Chat.ID
	if !h.chatAllowed(chatID) {
		h.logger.Warn("telegram update ignored: chat not allowed", zap.Int64("chat_id", chatID))
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.dispatchTimeout)
	defer cancel()

	reply := h.runTelegramCommand(ctx, update.Message.Text)
	if h.telegram.Messenger != nil {
		if err := h.telegram.Messenger.SendMessage(ctx, chatID, reply); err != nil && !errors.Is(err, delivery.ErrDisabled) {
			h.logger.Warn("telegram reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) chatAllowed(chatID int64) bool {
	if len(h.telegram.AllowedChats) == 0 {
		return true
	}
	for _, allowed := range h.telegram.AllowedChats {
		if allowed == chatID {
			return true
		}
	}
	return false
}

func (h *httpHandler) runTelegramCommand(ctx context.Context, text string) string {
	command, argument := parseTelegramCommand(text)
	switch command {
	case "/sync":
		if h.syncer == nil {
			return telegramSyncMissing
		}
		report, err := h.syncer.Sync(ctx)
		if err != nil {
			h.logger.Error("telegram sync failed", zap.Error(err))
			return "Sync failed, try again later."
		}
		return report.Summary()
	case "/batch":
		list := argument
		if list == "" {
			list = h.telegram.DefaultList
		}
		result, err := h.dispatcher.Dispatch(ctx, list)
		if err != nil {
			h.logger.Error("telegram batch failed", zap.String("list", list), zap.Error(err))
		}
		return result.Message()
	default:
		return telegramHelpText
	}
}

// parseTelegramCommand lowercases the command and strips a "@botname" suffix.
func parseTelegramCommand(text string) (string, string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	command := strings.ToLower(fields[0])
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}
	argument := ""
	if len(fields) > 1 {
		argument = strings.Join(fields[1:], " ")
	}
	return command, argument
}
