package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func baseViper() *viper.Viper {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("openai.api_key", "sk-test")
	return configViper
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(baseViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Batch.Limit != 10 || cfg.Batch.DefaultList != "software_vocabulary" || cfg.Batch.FailOpen {
		t.Fatalf("unexpected batch defaults %+v", cfg.Batch)
	}
	if len(cfg.Batch.Categories) != 2 || cfg.Batch.Categories[0] != "general" || cfg.Batch.Categories[1] != "software" {
		t.Fatalf("unexpected categories %#v", cfg.Batch.Categories)
	}
	if cfg.Auth.Issuer != "vocabcast" || cfg.Auth.TokenTTL != 30*24*time.Hour {
		t.Fatalf("unexpected auth defaults %+v", cfg.Auth)
	}
	if cfg.Storage.Backend != StorageBackendLocal {
		t.Fatalf("expected local storage by default, got %q", cfg.Storage.Backend)
	}
	if cfg.Mail.Enabled() || cfg.Twilio.Enabled() || cfg.Telegram.Enabled() || cfg.Drive.Enabled() {
		t.Fatalf("expected optional collaborators disabled by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("VOCABCAST_AUTH_SIGNING_SECRET", "env-secret")
	t.Setenv("VOCABCAST_OPENAI_API_KEY", "sk-env")
	t.Setenv("VOCABCAST_BATCH_LIMIT", "5")
	t.Setenv("VOCABCAST_MAIL_RECIPIENTS", "a@example.com, b@example.com")
	t.Setenv("VOCABCAST_MAIL_FROM", "bot@example.com")
	t.Setenv("VOCABCAST_TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("VOCABCAST_TELEGRAM_WEBHOOK_SECRET", "hook")
	t.Setenv("VOCABCAST_TELEGRAM_ALLOWED_CHATS", "42,-1001")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Auth.SigningSecret != "env-secret" || cfg.OpenAI.APIKey != "sk-env" || cfg.Batch.Limit != 5 {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if len(cfg.Mail.Recipients) != 2 || cfg.Mail.Recipients[1] != "b@example.com" {
		t.Fatalf("unexpected recipients %#v", cfg.Mail.Recipients)
	}
	if len(cfg.Telegram.AllowedChats) != 2 || cfg.Telegram.AllowedChats[1] != -1001 {
		t.Fatalf("unexpected chats %#v", cfg.Telegram.AllowedChats)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*viper.Viper)
		wantKey string
	}{
		{name: "missing-secret", mutate: func(v *viper.Viper) { v.Set("auth.signing_secret", "") }, wantKey: "auth.signing_secret"},
		{name: "missing-openai-key", mutate: func(v *viper.Viper) { v.Set("openai.api_key", " ") }, wantKey: "openai.api_key"},
		{name: "missing-database", mutate: func(v *viper.Viper) { v.Set("database.path", "") }, wantKey: "database.path"},
		{name: "zero-limit", mutate: func(v *viper.Viper) { v.Set("batch.limit", 0) }, wantKey: "batch.limit"},
		{name: "unknown-storage", mutate: func(v *viper.Viper) { v.Set("storage.backend", "ftp") }, wantKey: "storage.backend"},
		{name: "s3-without-bucket", mutate: func(v *viper.Viper) { v.Set("storage.backend", "s3") }, wantKey: "storage.pdf_bucket"},
		{name: "twilio-without-token", mutate: func(v *viper.Viper) { v.Set("twilio.account_sid", "AC1") }, wantKey: "twilio.auth_token"},
		{name: "mail-without-from", mutate: func(v *viper.Viper) { v.Set("mail.recipients", []string{"a@example.com"}) }, wantKey: "mail.from"},
		{name: "telegram-without-secret", mutate: func(v *viper.Viper) { v.Set("telegram.bot_token", "1:x") }, wantKey: "telegram.webhook_secret"},
		{name: "drive-without-credentials", mutate: func(v *viper.Viper) { v.Set("drive.folder_id", "folder") }, wantKey: "drive.service_account_file"},
		{name: "bad-chat-id", mutate: func(v *viper.Viper) { v.Set("telegram.allowed_chats", []string{"abc"}) }, wantKey: "telegram.allowed_chats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := baseViper()
			tt.mutate(configViper)
			_, err := Load(configViper)
			var configErr *ConfigurationError
			if !errors.As(err, &configErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if configErr.Key != tt.wantKey {
				t.Fatalf("expected key %q, got %q", tt.wantKey, configErr.Key)
			}
		})
	}
}

func TestLoadAuthIgnoresServiceSettings(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("batch.limit", 0)

	cfg, err := LoadAuth(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "secret" || cfg.Issuer != "vocabcast" || cfg.TokenTTL != 30*24*time.Hour {
		t.Fatalf("unexpected auth config %+v", cfg)
	}

	_, err = LoadAuth(NewViper())
	var configErr *ConfigurationError
	if !errors.As(err, &configErr) || configErr.Key != "auth.signing_secret" {
		t.Fatalf("expected missing signing secret, got %v", err)
	}
}
