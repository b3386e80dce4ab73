package delivery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// ErrMissingAudio reports a call request without an audio URL.
var ErrMissingAudio = errors.New("delivery: audio url is required")

// VoiceNotifier places a call that plays the batch audio.
type VoiceNotifier interface {
	Notify(ctx context.Context, audioURL string) error
}

// TwilioConfig describes the Twilio account and numbers.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// TwilioNotifier uses the Twilio Calls REST API with inline TwiML.
type TwilioNotifier struct {
	accountSID string
	authToken  string
	from       string
	to         string
	baseURL    string
	client     *http.Client
	logger     *zap.Logger
}

// NewTwilioNotifier validates cfg.
func NewTwilioNotifier(cfg TwilioConfig) (*TwilioNotifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" || cfg.To == "" {
		return nil, errors.New("delivery: twilio account sid, auth token, from and to are required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}
	return &TwilioNotifier{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		to:         cfg.To,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		logger:     logger,
	}, nil
}

// Notify starts the call. An empty audio URL is rejected without calling Twilio.
func (n *TwilioNotifier) Notify(ctx context.Context, audioURL string) error {
	if strings.TrimSpace(audioURL) == "" {
		return ErrMissingAudio
	}
	form := url.Values{}
	form.Set("To", n.to)
	form.Set("From", n.from)
	form.Set("Twiml", PlayTwiML(audioURL))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", n.baseURL, url.PathEscape(n.accountSID))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("delivery: build twilio request: %w", err)
	}
	request.SetBasicAuth(n.accountSID, n.authToken)
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := n.client.Do(request)
	if err != nil {
		n.logger.Error("voice call failed", zap.Error(err))
		return fmt.Errorf("delivery: twilio request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		n.logger.Error("voice call rejected", zap.Int("status", response.StatusCode))
		return fmt.Errorf("delivery: twilio returned status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}
	n.logger.Info("voice call started", zap.String("to", n.to))
	return nil
}

// PlayTwiML is the call script that plays one audio file.
func PlayTwiML(audioURL string) string {
	var escaped strings.Builder
	// Writes to a strings.Builder never fail.
	_ = xml.EscapeText(&escaped, []byte(audioURL))
	return "<Response><Play>" + escaped.String() + "</Play></Response>"
}

// DisabledVoiceNotifier stands in when telephony is not configured.
type DisabledVoiceNotifier struct {
	Logger *zap.Logger
}

// Notify logs and reports ErrDisabled.
func (d DisabledVoiceNotifier) Notify(ctx context.Context, audioURL string) error {
	if d.Logger != nil {
		d.Logger.Info("voice notification skipped: notifier disabled")
	}
	return fmt.Errorf("voice: %w", ErrDisabled)
}
