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

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/stork/internal/backup"
	"github.com/MarcoPoloResearchLab/stork/internal/config"
	"github.com/MarcoPoloResearchLab/stork/internal/database"
	"github.com/MarcoPoloResearchLab/stork/internal/delivery"
	"github.com/MarcoPoloResearchLab/stork/internal/logbook"
	"github.com/MarcoPoloResearchLab/stork/internal/logging"
	"github.com/MarcoPoloResearchLab/stork/internal/metrics"
	"github.com/MarcoPoloResearchLab/stork/internal/notify"
	"github.com/MarcoPoloResearchLab/stork/internal/ops"
	"github.com/MarcoPoloResearchLab/stork/internal/records"
	"github.com/MarcoPoloResearchLab/stork/internal/report"
	"github.com/MarcoPoloResearchLab/stork/internal/schedule"
	"github.com/MarcoPoloResearchLab/stork/internal/sheets"
	"github.com/MarcoPoloResearchLab/stork/internal/texts"
)

var (
	cfgFile      string
	tokenSubject string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stork-bot",
		Short: "Pregnancy tracking bot service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator API token",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return mintToken(cmd)
		},
	}
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	rootCmd.AddCommand(tokenCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("records-db-path", defaults.GetString("database.records_path"), "Records SQLite database path")
	cmd.PersistentFlags().String("logbook-db-path", defaults.GetString("database.logbook_path"), "Log queue SQLite database path")
	cmd.PersistentFlags().String("ops-address", defaults.GetString("ops.address"), "Operator HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("dev-mode", defaults.GetBool("bot.dev_mode"), "Run in development mode")
	cmd.PersistentFlags().String("spreadsheet-id", "", "Backing spreadsheet id")
	cmd.PersistentFlags().String("credentials-path", defaults.GetString("sheet.credentials_path"), "Service account credentials path")

	bindFlag(cmd, "database.records_path", "records-db-path")
	bindFlag(cmd, "database.logbook_path", "logbook-db-path")
	bindFlag(cmd, "ops.address", "ops-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "bot.dev_mode", "dev-mode")
	bindFlag(cmd, "sheet.spreadsheet_id", "spreadsheet-id")
	bindFlag(cmd, "sheet.credentials_path", "credentials-path")
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

func mintToken(cmd *cobra.Command) error {
	secret := viper.GetString("ops.signing_secret")
	issuer := ops.NewTokenIssuer(ops.TokenIssuerConfig{SigningSecret: []byte(secret)})
	token, expiresIn, err := issuer.IssueToken(tokenSubject)
	if err != nil {
		return err
	}
	cmd.Printf("%s\nexpires in %ds\n", token, expiresIn)
	return nil
}

func runBot(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.DevMode)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	recordsDB, err := database.OpenSQLite(appConfig.RecordsDBPath, logger,
		&records.User{}, &records.UserDate{}, &texts.Text{})
	if err != nil {
		return err
	}
	recordsSQL, err := recordsDB.DB()
	if err != nil {
		return err
	}
	defer recordsSQL.Close()

	if err := database.ApplyMigrations(recordsDB, logger); err != nil {
		return err
	}

	logbookDB, err := database.OpenSQLite(appConfig.LogbookDBPath, logger, &logbook.Entry{})
	if err != nil {
		return err
	}
	logbookSQL, err := logbookDB.DB()
	if err != nil {
		return err
	}
	defer logbookSQL.Close()

	userRepo, err := records.NewUserRepository(recordsDB)
	if err != nil {
		return err
	}
	dateRepo, err := records.NewUserDateRepository(recordsDB)
	if err != nil {
		return err
	}
	textsRepo, err := texts.NewRepository(recordsDB)
	if err != nil {
		return err
	}
	logRepo, err := logbook.NewRepository(logbookDB)
	if err != nil {
		return err
	}

	mainBot, err := tgbotapi.NewBotAPI(appConfig.MainBotToken)
	if err != nil {
		return fmt.Errorf("connect main bot: %w", err)
	}
	logBot, err := tgbotapi.NewBotAPI(appConfig.LogBotToken)
	if err != nil {
		return fmt.Errorf("connect log bot: %w", err)
	}
	logger.Info("bots connected",
		zap.String("main_bot", mainBot.Self.UserName),
		zap.String("log_bot", logBot.Self.UserName))

	// The reporter gets its own sender so a failing report cannot recurse
	// back into itself.
	reportSender, err := delivery.NewSender(delivery.SenderConfig{API: mainBot, Logger: logger})
	if err != nil {
		return err
	}
	reporter, err := report.NewReporter(report.ReporterConfig{
		Sender:      reportSender,
		DevChatID:   appConfig.DevChatID,
		BotUsername: mainBot.Self.UserName,
		DevMode:     appConfig.DevMode,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	mainSender, err := delivery.NewSender(delivery.SenderConfig{
		API: mainBot, Logger: logger, Reporter: reporter,
	})
	if err != nil {
		return err
	}
	logSender, err := delivery.NewSender(delivery.SenderConfig{
		API: logBot, Logger: logger, Reporter: reporter,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(registry)

	sheetClient, err := sheets.NewClient(ctx, sheets.ClientConfig{
		SpreadsheetID:   appConfig.SpreadsheetID,
		CredentialsPath: appConfig.CredentialsPath,
	})
	if err != nil {
		return err
	}
	usersSheet, err := sheetClient.Worksheet(appConfig.UsersSheet, "E")
	if err != nil {
		return err
	}
	datesSheet, err := sheetClient.Worksheet(appConfig.DatesSheet, "D")
	if err != nil {
		return err
	}
	textsSheet, err := sheetClient.Worksheet(appConfig.TextsSheet, "Z")
	if err != nil {
		return err
	}

	backupEngine, err := backup.NewEngine(backup.EngineConfig{
		Users:      userRepo,
		Dates:      dateRepo,
		Texts:      textsRepo,
		UsersSheet: usersSheet,
		DatesSheet: datesSheet,
		TextsSheet: textsSheet,
		Logger:     logger,
		Metrics:    appMetrics,
		DevMode:    appConfig.DevMode,
	})
	if err != nil {
		return err
	}

	logEngine, err := logbook.NewEngine(logbook.EngineConfig{
		Repository:    logRepo,
		Sender:        logSender,
		LogsChatID:    appConfig.LogsChatID,
		BackupsChatID: appConfig.BackupsChatID,
		DevChatID:     appConfig.DevChatID,
		BotName:       logBot.Self.FirstName,
		BotUsername:   logBot.Self.UserName,
		Logger:        logger,
		Metrics:       appMetrics,
	})
	if err != nil {
		return err
	}

	notifyEngine, err := notify.NewEngine(notify.EngineConfig{
		Dates:            dateRepo,
		Texts:            textsRepo,
		Sender:           mainSender,
		Log:              logEngine,
		FallbackLanguage: appConfig.FallbackLanguage,
		TimezoneOffset:   appConfig.TimezoneOffset,
		Logger:           logger,
		Metrics:          appMetrics,
	})
	if err != nil {
		return err
	}

	if err := backupEngine.ColdStart(ctx); err != nil {
		return fmt.Errorf("cold start: %w", err)
	}

	startedAt := time.Now().UTC()
	opsHandler, err := ops.NewHTTPHandler(ops.Dependencies{
		Tokens: ops.NewTokenIssuer(ops.TokenIssuerConfig{
			SigningSecret: []byte(appConfig.OpsSigningSecret),
		}),
		Status: ops.StatusFunc(func(ctx context.Context) (ops.Status, error) {
			pending, err := logRepo.PendingCount(ctx)
			if err != nil {
				return ops.Status{}, err
			}
			dirtyUsers, err := userRepo.DirtyUsers(ctx)
			if err != nil {
				return ops.Status{}, err
			}
			dirtyDates, err := dateRepo.DirtyDates(ctx)
			if err != nil {
				return ops.Status{}, err
			}
			return ops.Status{
				PendingLogEntries: pending,
				DirtyUsers:        int64(len(dirtyUsers)),
				DirtyDates:        int64(len(dirtyDates)),
				UptimeSeconds:     int64(time.Since(startedAt).Seconds()),
			}, nil
		}),
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    appConfig.OpsAddress,
		Handler: opsHandler,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server starting", zap.String("address", appConfig.OpsAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	supervisor := schedule.NewSupervisor(schedule.SupervisorConfig{
		Logger:   logger,
		Metrics:  appMetrics,
		Reporter: reporter,
	})
	go supervisor.Run(signalCtx, "log_flush", logEngine.Run)

	scheduler := schedule.NewScheduler(schedule.SchedulerConfig{
		Actions: schedule.Actions{
			PushDue:      backupEngine.PushDue,
			Push:         backupEngine.Push,
			PDRNotify:    notifyEngine.PDRScan,
			PeriodNotify: notifyEngine.PeriodScan,
		},
		Logger:   logger,
		Reporter: reporter,
	})
	scheduler.Start(signalCtx)
	defer scheduler.Stop()

	if err := logEngine.EnqueueEvent(signalCtx, "started #start"); err != nil {
		logger.Warn("startup log entry failed", zap.Error(err))
	}

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
