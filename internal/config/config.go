package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "VOCABCAST"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "vocabcast.db"
	defaultLogLevel        = "info"
	defaultBatchLimit      = 10
	defaultBatchList       = "software_vocabulary"
	defaultAuthIssuer      = "vocabcast"
	defaultTokenTTLMinutes = 60 * 24 * 30
	defaultStorageBackend  = StorageBackendLocal
	defaultLocalRoot       = "data/objects"
	defaultSyncConcurrency = 4

	StorageBackendS3    = "s3"
	StorageBackendLocal = "local"
)

var defaultCategories = []string{"general", "software"}

// ConfigurationError reports a missing or inconsistent setting.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Key, e.Reason)
}

func missing(key string) error {
	return &ConfigurationError{Key: key, Reason: "is required"}
}

// BatchConfig controls the daily batch.
type BatchConfig struct {
	Limit       int
	DefaultList string
	FailOpen    bool
	Categories  []string
}

// AuthConfig controls API bearer tokens.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	TokenTTL      time.Duration
}

// OpenAIConfig controls story and speech generation.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	SpeechModel string
	Voice       string
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend         string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	PDFBucket       string
	AudioBucket     string
	PublicBaseURL   string
	LocalRoot       string
}

// MailConfig configures SMTP delivery. Empty Recipients disables mail.
type MailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	Recipients []string
}

// Enabled reports whether mail delivery is configured.
func (c MailConfig) Enabled() bool {
	return len(c.Recipients) > 0
}

// TwilioConfig configures the voice call. Empty AccountSID disables it.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// Enabled reports whether voice notification is configured.
func (c TwilioConfig) Enabled() bool {
	return c.AccountSID != ""
}

// TelegramConfig configures the bot. Empty BotToken disables the webhook.
type TelegramConfig struct {
	BotToken      string
	WebhookSecret string
	AllowedChats  []int64
}

// Enabled reports whether the bot is configured.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != ""
}

// DriveConfig configures the Google Drive document source.
type DriveConfig struct {
	FolderID           string
	ServiceAccountFile string
	AccessToken        string
}

// Enabled reports whether Drive is the document source.
func (c DriveConfig) Enabled() bool {
	return c.FolderID != ""
}

// SourceConfig configures the document sync.
type SourceConfig struct {
	Directory   string
	Concurrency int
}

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	Batch        BatchConfig
	Auth         AuthConfig
	OpenAI       OpenAIConfig
	Storage      StorageConfig
	Mail         MailConfig
	Twilio       TwilioConfig
	Telegram     TelegramConfig
	Drive        DriveConfig
	Source       SourceConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("batch.limit", defaultBatchLimit)
	configViper.SetDefault("batch.default_list", defaultBatchList)
	configViper.SetDefault("batch.fail_open", false)
	configViper.SetDefault("batch.categories", defaultCategories)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.local_root", defaultLocalRoot)
	configViper.SetDefault("source.concurrency", defaultSyncConcurrency)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		Batch: BatchConfig{
			Limit:       configViper.GetInt("batch.limit"),
			DefaultList: configViper.GetString("batch.default_list"),
			FailOpen:    configViper.GetBool("batch.fail_open"),
			Categories:  cleanList(configViper.GetStringSlice("batch.categories")),
		},
		Auth: loadAuth(configViper),
		OpenAI: OpenAIConfig{
			APIKey:      configViper.GetString("openai.api_key"),
			BaseURL:     configViper.GetString("openai.base_url"),
			ChatModel:   configViper.GetString("openai.chat_model"),
			SpeechModel: configViper.GetString("openai.speech_model"),
			Voice:       configViper.GetString("openai.voice"),
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
			Region:          configViper.GetString("storage.region"),
			AccessKeyID:     configViper.GetString("storage.access_key_id"),
			SecretAccessKey: configViper.GetString("storage.secret_access_key"),
			Endpoint:        configViper.GetString("storage.endpoint"),
			PDFBucket:       configViper.GetString("storage.pdf_bucket"),
			AudioBucket:     configViper.GetString("storage.audio_bucket"),
			PublicBaseURL:   configViper.GetString("storage.public_base_url"),
			LocalRoot:       configViper.GetString("storage.local_root"),
		},
		Mail: MailConfig{
			Host:       configViper.GetString("mail.host"),
			Port:       configViper.GetInt("mail.port"),
			Username:   configViper.GetString("mail.username"),
			Password:   configViper.GetString("mail.password"),
			From:       configViper.GetString("mail.from"),
			FromName:   configViper.GetString("mail.from_name"),
			Recipients: cleanList(configViper.GetStringSlice("mail.recipients")),
		},
		Twilio: TwilioConfig{
			AccountSID: strings.TrimSpace(configViper.GetString("twilio.account_sid")),
			AuthToken:  configViper.GetString("twilio.auth_token"),
			From:       configViper.GetString("twilio.from"),
			To:         configViper.GetString("twilio.to"),
		},
		Telegram: TelegramConfig{
			BotToken:      strings.TrimSpace(configViper.GetString("telegram.bot_token")),
			WebhookSecret: configViper.GetString("telegram.webhook_secret"),
		},
		Drive: DriveConfig{
			FolderID:           strings.TrimSpace(configViper.GetString("drive.folder_id")),
			ServiceAccountFile: configViper.GetString("drive.service_account_file"),
			AccessToken:        configViper.GetString("drive.access_token"),
		},
		Source: SourceConfig{
			Directory:   configViper.GetString("source.directory"),
			Concurrency: configViper.GetInt("source.concurrency"),
		},
	}

	allowedChats, err := parseChatIDs(cleanList(configViper.GetStringSlice("telegram.allowed_chats")))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.Telegram.AllowedChats = allowedChats

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadAuth parses and validates only the auth section, for commands that mint
// tokens without running the service.
func LoadAuth(configViper *viper.Viper) (AuthConfig, error) {
	cfg := loadAuth(configViper)
	if err := cfg.validate(); err != nil {
		return AuthConfig{}, err
	}
	return cfg, nil
}

func loadAuth(configViper *viper.Viper) AuthConfig {
	return AuthConfig{
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
	}
}

func (c AuthConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return missing("auth.signing_secret")
	}
	if c.TokenTTL <= 0 {
		return &ConfigurationError{Key: "auth.token_ttl_minutes", Reason: "must be positive"}
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return missing("database.path")
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return missing("openai.api_key")
	}
	if c.Batch.Limit <= 0 {
		return &ConfigurationError{Key: "batch.limit", Reason: "must be positive"}
	}
	if len(c.Batch.Categories) == 0 {
		return missing("batch.categories")
	}

	switch c.Storage.Backend {
	case StorageBackendS3:
		if c.Storage.PDFBucket == "" {
			return missing("storage.pdf_bucket")
		}
		if c.Storage.AudioBucket == "" {
			return missing("storage.audio_bucket")
		}
		if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
			return &ConfigurationError{Key: "storage.secret_access_key", Reason: "must be set together with storage.access_key_id"}
		}
	case StorageBackendLocal:
		if strings.TrimSpace(c.Storage.LocalRoot) == "" {
			return missing("storage.local_root")
		}
	default:
		return &ConfigurationError{Key: "storage.backend", Reason: fmt.Sprintf("must be %q or %q", StorageBackendS3, StorageBackendLocal)}
	}

	if c.Mail.Enabled() && strings.TrimSpace(c.Mail.From) == "" {
		return missing("mail.from")
	}
	if c.Twilio.Enabled() {
		if c.Twilio.AuthToken == "" {
			return missing("twilio.auth_token")
		}
		if c.Twilio.From == "" || c.Twilio.To == "" {
			return &ConfigurationError{Key: "twilio.from", Reason: "and twilio.to are required with twilio.account_sid"}
		}
	}
	if c.Telegram.Enabled() && strings.TrimSpace(c.Telegram.WebhookSecret) == "" {
		return missing("telegram.webhook_secret")
	}
	if c.Drive.Enabled() && c.Drive.ServiceAccountFile == "" && c.Drive.AccessToken == "" {
		return missing("drive.service_account_file")
	}
	return nil
}

func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
	}
	return cleaned
}

func parseChatIDs(values []string) ([]int64, error) {
	chatIDs := make([]int64, 0, len(values))
	for _, value := range values {
		chatID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, &ConfigurationError{Key: "telegram.allowed_chats", Reason: fmt.Sprintf("contains non-numeric chat id %q", value)}
		}
		chatIDs = append(chatIDs, chatID)
	}
	return chatIDs, nil
}
