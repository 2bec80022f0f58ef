package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "STORK"
	defaultRecordsDBPath   = "stork.db"
	defaultLogbookDBPath   = "logbook.db"
	defaultLogLevel        = "info"
	defaultOpsAddress      = "0.0.0.0:8090"
	defaultUsersSheet      = "users"
	defaultDatesSheet      = "user_dates"
	defaultTextsSheet      = "texts"
	defaultFallbackLang    = "ru"
	defaultTimezoneOffset  = 3
	defaultCredentialsPath = "credentials/creds.json"
)

// AppConfig captures runtime configuration for the bot process.
type AppConfig struct {
	MainBotToken string
	LogBotToken  string

	DevChatID     int64
	LogsChatID    int64
	BackupsChatID int64

	SpreadsheetID   string
	CredentialsPath string
	UsersSheet      string
	DatesSheet      string
	TextsSheet      string

	RecordsDBPath string
	LogbookDBPath string

	FallbackLanguage string
	TimezoneOffset   int

	OpsAddress       string
	OpsSigningSecret string

	LogLevel string
	DevMode  bool
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

	configViper.SetDefault("database.records_path", defaultRecordsDBPath)
	configViper.SetDefault("database.logbook_path", defaultLogbookDBPath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("ops.address", defaultOpsAddress)
	configViper.SetDefault("sheet.users_title", defaultUsersSheet)
	configViper.SetDefault("sheet.dates_title", defaultDatesSheet)
	configViper.SetDefault("sheet.texts_title", defaultTextsSheet)
	configViper.SetDefault("sheet.credentials_path", defaultCredentialsPath)
	configViper.SetDefault("bot.fallback_language", defaultFallbackLang)
	configViper.SetDefault("bot.timezone_offset", defaultTimezoneOffset)
	configViper.SetDefault("bot.dev_mode", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		MainBotToken:     configViper.GetString("bot.main_token"),
		LogBotToken:      configViper.GetString("bot.log_token"),
		DevChatID:        configViper.GetInt64("chat.dev_id"),
		LogsChatID:       configViper.GetInt64("chat.logs_id"),
		BackupsChatID:    configViper.GetInt64("chat.backups_id"),
		SpreadsheetID:    configViper.GetString("sheet.spreadsheet_id"),
		CredentialsPath:  configViper.GetString("sheet.credentials_path"),
		UsersSheet:       configViper.GetString("sheet.users_title"),
		DatesSheet:       configViper.GetString("sheet.dates_title"),
		TextsSheet:       configViper.GetString("sheet.texts_title"),
		RecordsDBPath:    configViper.GetString("database.records_path"),
		LogbookDBPath:    configViper.GetString("database.logbook_path"),
		FallbackLanguage: configViper.GetString("bot.fallback_language"),
		TimezoneOffset:   configViper.GetInt("bot.timezone_offset"),
		OpsAddress:       configViper.GetString("ops.address"),
		OpsSigningSecret: configViper.GetString("ops.signing_secret"),
		LogLevel:         configViper.GetString("log.level"),
		DevMode:          configViper.GetBool("bot.dev_mode"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.MainBotToken) == "" {
		return fmt.Errorf("bot.main_token is required")
	}
	if strings.TrimSpace(c.LogBotToken) == "" {
		return fmt.Errorf("bot.log_token is required")
	}
	if strings.TrimSpace(c.SpreadsheetID) == "" {
		return fmt.Errorf("sheet.spreadsheet_id is required")
	}
	if c.LogsChatID == 0 {
		return fmt.Errorf("chat.logs_id is required")
	}
	if c.DevChatID == 0 {
		return fmt.Errorf("chat.dev_id is required")
	}
	if strings.TrimSpace(c.RecordsDBPath) == "" {
		return fmt.Errorf("database.records_path is required")
	}
	if strings.TrimSpace(c.LogbookDBPath) == "" {
		return fmt.Errorf("database.logbook_path is required")
	}
	return nil
}
