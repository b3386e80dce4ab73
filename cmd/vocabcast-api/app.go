package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/auth"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/batches"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/config"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/database"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/delivery"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/dispatch"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/docsource"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/document"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/logging"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/narrative"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/objectstore"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/server"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errNoDocumentSource = errors.New("no document source configured: set drive.folder_id or source.directory")

// application holds the wired collaborators shared by the server and the one-shot commands.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	db         *gorm.DB
	tokens     *auth.TokenIssuer
	words      *vocab.Service
	records    *batches.Service
	dispatcher *dispatch.Dispatcher
	syncer     *docsource.Syncer
	events     *server.EventHub
	messenger  delivery.Messenger
}

func buildApp(ctx context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	app := &application{config: appConfig, logger: logger, db: db, events: server.NewEventHub()}

	if err := app.wire(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire(ctx context.Context) error {
	cfg := a.config
	logger := a.logger

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(cfg.Auth.SigningSecret),
		Issuer:        cfg.Auth.Issuer,
		TokenTTL:      cfg.Auth.TokenTTL,
	})
	if err != nil {
		return err
	}
	a.tokens = tokens

	a.words, err = vocab.NewService(vocab.ServiceConfig{Database: a.db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	a.records, err = batches.NewService(batches.ServiceConfig{Database: a.db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}

	narrativeClient, err := narrative.NewClient(narrative.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		ChatModel:   cfg.OpenAI.ChatModel,
		SpeechModel: cfg.OpenAI.SpeechModel,
		Voice:       cfg.OpenAI.Voice,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	uploader, err := newUploader(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	mailer, err := newMailer(cfg.Mail, logger)
	if err != nil {
		return err
	}
	voice, err := newVoiceNotifier(cfg.Twilio, logger)
	if err != nil {
		return err
	}
	a.messenger, err = newMessenger(cfg.Telegram, logger)
	if err != nil {
		return err
	}

	a.dispatcher, err = dispatch.New(dispatch.Config{
		Selector:   a.words,
		Records:    a.records,
		Stories:    narrativeClient,
		Speech:     narrativeClient,
		Renderer:   document.NewRenderer(document.Config{}),
		Uploader:   uploader,
		Mailer:     mailer,
		Voice:      voice,
		Events:     a.events,
		Categories: cfg.Batch.Categories,
		Limit:      cfg.Batch.Limit,
		FailOpen:   cfg.Batch.FailOpen,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	source, err := newDocumentSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if source != nil {
		a.syncer, err = docsource.NewSyncer(docsource.SyncerConfig{
			Source:      source,
			Store:       a.words,
			Concurrency: cfg.Source.Concurrency,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// optionalSyncer keeps a nil *Syncer from becoming a non-nil interface.
func (a *application) optionalSyncer() server.VocabularySyncer {
	if a.syncer == nil {
		return nil
	}
	return a.syncer
}

func (a *application) Close() {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newUploader(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (objectstore.Uploader, error) {
	if cfg.Backend == config.StorageBackendS3 {
		return objectstore.NewS3Uploader(ctx, objectstore.S3Config{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Endpoint:        cfg.Endpoint,
			PDFBucket:       cfg.PDFBucket,
			AudioBucket:     cfg.AudioBucket,
			PublicBaseURL:   cfg.PublicBaseURL,
			Logger:          logger,
		})
	}
	return objectstore.NewLocalUploader(cfg.LocalRoot, cfg.PublicBaseURL, logger), nil
}

func newMailer(cfg config.MailConfig, logger *zap.Logger) (delivery.Mailer, error) {
	if !cfg.Enabled() {
		logger.Info("mail delivery disabled")
		return delivery.DisabledMailer{Logger: logger}, nil
	}
	return delivery.NewSMTPMailer(delivery.SMTPConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.Username,
		Password:   cfg.Password,
		From:       cfg.From,
		FromName:   cfg.FromName,
		Recipients: cfg.Recipients,
		Logger:     logger,
	})
}

func newVoiceNotifier(cfg config.TwilioConfig, logger *zap.Logger) (delivery.VoiceNotifier, error) {
	if !cfg.Enabled() {
		logger.Info("voice notification disabled")
		return delivery.DisabledVoiceNotifier{Logger: logger}, nil
	}
	return delivery.NewTwilioNotifier(delivery.TwilioConfig{
		AccountSID: cfg.AccountSID,
		AuthToken:  cfg.AuthToken,
		From:       cfg.From,
		To:         cfg.To,
		Logger:     logger,
	})
}

func newMessenger(cfg config.TelegramConfig, logger *zap.Logger) (delivery.Messenger, error) {
	if !cfg.Enabled() {
		return delivery.DisabledMessenger{Logger: logger}, nil
	}
	return delivery.NewTelegramClient(cfg.BotToken, "", logger)
}

// newDocumentSource prefers Drive, falls back to a local directory and returns nil when neither is set.
func newDocumentSource(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (docsource.Source, error) {
	if cfg.Drive.Enabled() {
		tokens := docsource.StaticTokenSource(cfg.Drive.AccessToken)
		if cfg.Drive.ServiceAccountFile != "" {
			serviceTokens, err := docsource.NewServiceAccountTokenSourceFromFile(context.WithoutCancel(ctx), cfg.Drive.ServiceAccountFile, &http.Client{Timeout: 30 * time.Second})
			if err != nil {
				return nil, err
			}
			tokens = serviceTokens
		}
		return docsource.NewDriveSource(docsource.DriveConfig{
			FolderID: cfg.Drive.FolderID,
			Tokens:   tokens,
			Logger:   logger,
		})
	}
	if cfg.Source.Directory != "" {
		return docsource.NewDirectorySource(cfg.Source.Directory), nil
	}
	return nil, nil
}
