package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/discord/message"
	"github.com/Tayen15/KZT-sub000/pkg/discord/session"
	"github.com/Tayen15/KZT-sub000/pkg/discord/voice"
	"github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/files"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
	"github.com/Tayen15/KZT-sub000/pkg/storage"
	"github.com/Tayen15/KZT-sub000/pkg/theme"
	"github.com/Tayen15/KZT-sub000/pkg/util"
)

// Environment variables read by Run.
const (
	EnvMonitorsFile = "STATUSBOT_MONITORS_FILE"
	EnvTheme        = "STATUSBOT_THEME"
)

// Run bootstraps the bot and blocks until shutdown.
// appName affects config/data/log paths; tokenEnv is the environment variable containing the bot token.
// Environment: the tokenEnv is read from the current process environment first; if empty,
// a fallback $HOME/.local/bin/.env file will be loaded and the variable re-checked.
func Run(appName, tokenEnv string) error {
	started := time.Now()

	// App name first (affects paths)
	util.SetAppName(appName)

	token, loadErr := util.LoadEnvWithLocalBinFallback(tokenEnv)
	if loadErr != nil {
		log.ApplicationLogger().Warn("Environment fallback not loaded", "err", loadErr)
	}

	// Logger first so subsequent steps can log meaningfully
	if err := log.SetupLogger(); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Sync()

	log.ApplicationLogger().Info(formatStartupMessage(appName, Version))

	errorHandler := errors.NewErrorHandler()

	configPath := util.EnvString(EnvMonitorsFile, util.GetMonitorsFilePath())
	cfg, err := files.LoadConfig(configPath)
	if err != nil {
		return err
	}
	themeName := util.EnvString(EnvTheme, cfg.Theme)
	if err := theme.SetCurrent(themeName); err != nil {
		log.ApplicationLogger().Warn("Failed to apply theme, using default", "theme", themeName, "err", err)
	}

	if token == "" {
		return fmt.Errorf("%s not set in environment or .env file", tokenEnv)
	}

	log.DiscordLogger().Info("Attempting to authenticate with Discord API...")
	discordSession, err := session.NewDiscordSession(token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	defer func() { _ = session.Close(discordSession) }()
	if discordSession.State != nil && discordSession.State.User != nil {
		log.DiscordLogger().Info("Authenticated", "user", discordSession.State.User.Username)
	}

	if err := util.EnsureDirs(cfg.Storage.Path); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}
	backend, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		metrics.RecordStoreOperation("init", err)
		return fmt.Errorf("initialize %s store: %w", cfg.Storage.Driver, err)
	}
	defer func() { _ = backend.Close() }()

	bot, err := NewBot(Deps{
		Config:       cfg,
		ConfigPath:   configPath,
		Backend:      backend,
		Messenger:    message.NewDiscordMessenger(discordSession),
		Voice:        voice.NewAdapter(discordSession, nil, voice.Config{CheckInterval: cfg.Voice.CheckInterval}),
		Session:      discordSession,
		ErrorHandler: errorHandler,
	})
	if err != nil {
		return err
	}
	if err := bot.Start(); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	log.ApplicationLogger().Info("Initialized", "app", appName, "elapsed", time.Since(started).Round(time.Millisecond))
	log.ApplicationLogger().Info("Running. Press Ctrl+C to stop...", "app", appName)

	reloadCtx, stopReload := context.WithCancel(context.Background())
	util.NotifyHangup(reloadCtx, func() {
		log.ApplicationLogger().Info("Reloading monitors file", "path", configPath)
		if _, err := bot.Reload(reloadCtx); err != nil {
			log.ErrorLoggerRaw().Error("Reload failed", "path", configPath, "err", err)
		}
	})

	util.WaitForInterrupt()
	stopReload()
	log.ApplicationLogger().Info("Stopping...", "app", appName)

	done := make(chan error, 1)
	go func() { done <- bot.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			log.ErrorLoggerRaw().Error("Some services failed to stop cleanly", "err", err)
		}
	case <-time.After(45 * time.Second):
		log.ErrorLoggerRaw().Error("Shutdown timed out")
	}
	return nil
}
