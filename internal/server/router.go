package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/auth"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/batches"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/delivery"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/dispatch"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/docsource"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	subjectContextKey      = "vocabcast_subject"
	defaultDispatchTimeout = 5 * time.Minute
	heartbeatInterval      = 25 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingDispatcher     = errors.New("dispatcher dependency required")
	errMissingWordStore      = errors.New("word store dependency required")
	errMissingRecordStore    = errors.New("record store dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator validates API bearer tokens.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// BatchDispatcher runs one dispatch.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, rawList string) (dispatch.Result, error)
}

// VocabularySyncer copies source documents into the word store.
type VocabularySyncer interface {
	Sync(ctx context.Context) (docsource.SyncReport, error)
}

// WordStats reports list counters.
type WordStats interface {
	Stats(ctx context.Context, list vocab.ListName) (vocab.ListStats, error)
}

// TodayRecords looks up today's batch record.
type TodayRecords interface {
	FindToday(ctx context.Context, list vocab.ListName) (batches.Record, bool, error)
}

// TelegramSettings configures the webhook. An empty WebhookSecret disables the route.
type TelegramSettings struct {
	WebhookSecret string
	AllowedChats  []int64
	DefaultList   string
	Messenger     delivery.Messenger
}

type Dependencies struct {
	Tokens          TokenValidator
	Dispatcher      BatchDispatcher
	Syncer          VocabularySyncer
	Words           WordStats
	Records         TodayRecords
	Events          *EventHub
	Telegram        TelegramSettings
	AllowedOrigins  []string
	DispatchTimeout time.Duration
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Words == nil {
		return nil, errMissingWordStore
	}
	if deps.Records == nil {
		return nil, errMissingRecordStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewEventHub()
	}
	timeout := deps.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:          deps.Tokens,
		dispatcher:      deps.Dispatcher,
		syncer:          deps.Syncer,
		words:           deps.Words,
		records:         deps.Records,
		events:          events,
		telegram:        deps.Telegram,
		dispatchTimeout: timeout,
		logger:          logger,
	}

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if strings.TrimSpace(deps.Telegram.WebhookSecret) != "" {
		router.POST("/api/telegram/webhook", handler.handleTelegramWebhook)
	}

	protected := router.Group("/api/vocab")
	protected.Use(handler.authorizeRequest)
	protected.POST("/send-batch/:list", handler.handleSendBatch)
	protected.POST("/sync", handler.handleSync)
	protected.GET("/lists/:list", handler.handleListStatus)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	tokens          TokenValidator
	dispatcher      BatchDispatcher
	syncer          VocabularySyncer
	words           WordStats
	records         TodayRecords
	events          *EventHub
	telegram        TelegramSettings
	dispatchTimeout time.Duration
	logger          *zap.Logger
}

type dispatchResponsePayload struct {
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	List     string        `json:"list,omitempty"`
	Day      string        `json:"day,omitempty"`
	Words    []vocab.Entry `json:"words,omitempty"`
	PDFURL   string        `json:"pdf_url,omitempty"`
	AudioURL string        `json:"audio_url,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// runDispatch detaches from the caller so a dropped connection does not abort a batch midway.
func (h *httpHandler) runDispatch(parent context.Context, rawList string) (dispatch.Result, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.dispatchTimeout)
	defer cancel()
	return h.dispatcher.Dispatch(ctx, rawList)
}

func (h *httpHandler) handleSendBatch(c *gin.Context) {
	result, err := h.runDispatch(c.Request.Context(), c.Param("list"))
	payload := dispatchResponsePayload{
		Status:   result.Status(),
		Message:  result.Message(),
		List:     result.List.String(),
		Day:      result.Day,
		Words:    result.Words,
		PDFURL:   result.PDFURL,
		AudioURL: result.AudioURL,
		Warnings: result.WarningTexts(),
	}
	if err != nil {
		if errors.Is(err, vocab.ErrInvalidListName) {
			c.JSON(http.StatusBadRequest, gin.H{"status": result.Status(), "error": "invalid_list"})
			return
		}
		h.logger.Error("batch dispatch failed", zap.String("list", c.Param("list")), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, payload)
		return
	}
	c.JSON(http.StatusOK, payload)
}

type syncResponsePayload struct {
	Message   string         `json:"message"`
	Documents int            `json:"documents"`
	Stored    map[string]int `json:"stored"`
	Skipped   []string       `json:"skipped"`
	Failed    []string       `json:"failed"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	if h.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync_unavailable"})
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.dispatchTimeout)
	defer cancel()
	report, err := h.syncer.Sync(ctx)
	if err != nil {
		h.logger.Error("vocabulary sync failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "sync_failed"})
		return
	}
	c.JSON(http.StatusOK, syncResponsePayload{
		Message:   report.Summary(),
		Documents: report.Documents,
		Stored:    report.Stored,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	})
}

type listStatusPayload struct {
	List       string                   `json:"list"`
	Total      int64                    `json:"total"`
	Unsent     int64                    `json:"unsent"`
	SentToday  int64                    `json:"sent_today"`
	LastSentOn string                   `json:"last_sent_on,omitempty"`
	Today      *todayBatchStatusPayload `json:"today,omitempty"`
}

type todayBatchStatusPayload struct {
	Day      string        `json:"day"`
	PDFURL   string        `json:"pdf_url"`
	AudioURL string        `json:"audio_url"`
	Words    []vocab.Entry `json:"words"`
}

func (h *httpHandler) handleListStatus(c *gin.Context) {
	list, err := vocab.NormalizeListName(c.Param("list"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_list"})
		return
	}
	ctx := c.Request.Context()
	stats, err := h.words.Stats(ctx, list)
	if err != nil {
		h.logger.Error("list stats failed", zap.String("list", list.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	payload := listStatusPayload{
		List:       list.String(),
		Total:      stats.Total,
		Unsent:     stats.Unsent,
		SentToday:  stats.SentToday,
		LastSentOn: stats.LastSentOn,
	}
	record, found, err := h.records.FindToday(ctx, list)
	if err != nil {
		h.logger.Error("batch lookup failed", zap.String("list", list.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	if found {
		words, decodeErr := record.Words()
		if decodeErr != nil {
			h.logger.Warn("stored batch words unreadable", zap.String("list", list.String()), zap.Error(decodeErr))
		}
		payload.Today = &todayBatchStatusPayload{
			Day:      record.RunDate,
			PDFURL:   record.PDFURL,
			AudioURL: record.AudioURL,
			Words:    words,
		}
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	list := ""
	if raw := strings.TrimSpace(c.Query("list")); raw != "" {
		normalized, err := vocab.NormalizeListName(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_list"})
			return
		}
		list = normalized.String()
	}

	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, list)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event := <-stream:
			c.SSEvent(EventBatchDispatched, event)
			return true
		case at := <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{"at": at.UTC().Format(time.RFC3339)})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if c.Request.Method == http.MethodGet && c.FullPath() == "/api/vocab/events" {
		// EventSource cannot set headers.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}
