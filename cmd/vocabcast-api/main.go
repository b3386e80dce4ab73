package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/auth"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/config"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "vocabcast-api",
		Short:        "Daily vocabulary batch service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newDispatchCommand(), newSyncCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "API token signing secret (overrides env)")
	cmd.PersistentFlags().Int("batch-limit", defaults.GetInt("batch.limit"), "Words per daily batch")
	cmd.PersistentFlags().String("default-list", defaults.GetString("batch.default_list"), "List used by /batch without an argument")
	cmd.PersistentFlags().Bool("fail-open", defaults.GetBool("batch.fail_open"), "Generate a batch when the record check cannot reach the store")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Object store backend (s3, local)")
	cmd.PersistentFlags().String("source-directory", "", "Directory of .docx vocabulary files")
	cmd.PersistentFlags().String("drive-folder-id", "", "Google Drive folder holding vocabulary documents")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "batch.limit", "batch-limit")
	bindFlag(cmd, "batch.default_list", "default-list")
	bindFlag(cmd, "batch.fail_open", "fail-open")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "source.directory", "source-directory")
	bindFlag(cmd, "drive.folder_id", "drive-folder-id")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newDispatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch [list]",
		Short: "Run today's batch for a list once and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			list := app.config.Batch.DefaultList
			if len(args) == 1 {
				list = args[0]
			}
			result, err := app.dispatcher.Dispatch(cmd.Context(), list)
			fmt.Fprintln(cmd.OutOrStdout(), result.Message())
			for _, warning := range result.WarningTexts() {
				fmt.Fprintln(cmd.OutOrStdout(), "  warning:", warning)
			}
			return err
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Copy vocabulary documents into the word store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.syncer == nil {
				return errNoDocumentSource
			}
			report, err := app.syncer.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			for _, failed := range report.Failed {
				fmt.Fprintln(cmd.OutOrStdout(), "  failed:", failed)
			}
			return nil
		},
	}
}

func newIssueTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "issue-token <subject>",
		Short: "Print a bearer token for the /api routes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			authConfig, err := config.LoadAuth(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(authConfig.SigningSecret),
				Issuer:        authConfig.Issuer,
				TokenTTL:      authConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", time.Duration(expiresIn)*time.Second)
			return nil
		},
	}
}

func runServer(ctx context.Context) error {
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:     app.tokens,
		Dispatcher: app.dispatcher,
		Syncer:     app.optionalSyncer(),
		Words:      app.words,
		Records:    app.records,
		Events:     app.events,
		Telegram: server.TelegramSettings{
			WebhookSecret: app.config.Telegram.WebhookSecret,
			AllowedChats:  app.config.Telegram.AllowedChats,
			DefaultList:   app.config.Batch.DefaultList,
			Messenger:     app.messenger,
		},
		Logger: app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
