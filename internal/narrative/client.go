// Package narrative talks to the OpenAI API: chat completions for stories and
// audio speech for the spoken script. Both calls share one circuit breaker.
package narrative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/metrics"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultChatModel   = "gpt-4o"
	defaultSpeechModel = "tts-1"
	defaultVoice       = "nova"
	defaultTemperature = 0.7
	defaultMaxTokens   = 300
	defaultTimeout     = 60 * time.Second
	breakerName        = "openai"
	maxErrorBody       = 2048
)

var (
	// ErrMissingAPIKey reports a client configured without credentials.
	ErrMissingAPIKey = errors.New("narrative: api key is required")
	// ErrEmptyCompletion reports a completion response without text.
	ErrEmptyCompletion = errors.New("narrative: completion returned no text")
	// ErrEmptyAudio reports a speech response without audio bytes.
	ErrEmptyAudio = errors.New("narrative: speech returned no audio")
)

// Config describes the OpenAI endpoint and models.
type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	SpeechModel string
	Voice       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
	Breaker     *gobreaker.Settings
	Logger      *zap.Logger
}

// Client generates stories and speech.
type Client struct {
	apiKey      string
	baseURL     string
	chatModel   string
	speechModel string
	voice       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[[]byte]
	logger      *zap.Logger
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	settings := defaultBreakerSettings()
	if cfg.Breaker != nil {
		settings = *cfg.Breaker
	}
	if settings.Name == "" {
		settings.Name = breakerName
	}
	onStateChange := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		if onStateChange != nil {
			onStateChange(name, from, to)
		}
	}
	metrics.CircuitBreakerState.WithLabelValues(settings.Name).Set(0)

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(orDefault(cfg.BaseURL, defaultBaseURL), "/"),
		chatModel:   orDefault(cfg.ChatModel, defaultChatModel),
		speechModel: orDefault(cfg.SpeechModel, defaultSpeechModel),
		voice:       orDefault(cfg.Voice, defaultVoice),
		temperature: positiveOr(cfg.Temperature, defaultTemperature),
		maxTokens:   int(positiveOr(float64(cfg.MaxTokens), defaultMaxTokens)),
		httpClient:  httpClient,
		breaker:     gobreaker.NewCircuitBreaker[[]byte](settings),
		logger:      logger,
	}, nil
}

// defaultBreakerSettings opens after five consecutive failures and probes again after a minute.
func defaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// Generate writes a story for the category using the words.
func (c *Client) Generate(ctx context.Context, words []vocab.Entry, category string) (Story, error) {
	prompt, err := Prompt(category, words)
	if err != nil {
		return Story{}, err
	}
	payload, err := json.Marshal(chatRequest{
		Model:       c.chatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return Story{}, fmt.Errorf("narrative: encode chat request: %w", err)
	}

	body, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		c.logger.Warn("story generation failed", zap.String("category", category), zap.Error(err))
		return Story{}, err
	}
	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return Story{}, fmt.Errorf("narrative: decode chat response: %w", err)
	}
	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		return Story{}, ErrEmptyCompletion
	}
	return Story{Category: category, Text: strings.TrimSpace(response.Choices[0].Message.Content)}, nil
}

// Synthesize converts text to MP3 audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(speechRequest{Model: c.speechModel, Input: text, Voice: c.voice})
	if err != nil {
		return nil, fmt.Errorf("narrative: encode speech request: %w", err)
	}
	audio, err := c.post(ctx, "/audio/speech", payload)
	if err != nil {
		c.logger.Warn("speech synthesis failed", zap.Error(err))
		return nil, err
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
		request.Header.Set("Content-Type", "application/json")

		response, err := c.httpClient.Do(request)
		if err != nil {
			return nil, fmt.Errorf("narrative: request %s: %w", path, err)
		}
		defer response.Body.Close()

		if response.StatusCode < 200 || response.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
			return nil, fmt.Errorf("narrative: %s returned %d: %s", path, response.StatusCode, strings.TrimSpace(string(snippet)))
		}
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, fmt.Errorf("narrative: read %s response: %w", path, err)
		}
		return body, nil
	})
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func positiveOr(value, fallback float64) float64 {
	if value <= 0 {
		return fallback
	}
	return value
}
