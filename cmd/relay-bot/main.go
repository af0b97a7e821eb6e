// Точка входа relay-bot — бота-хранилища файлов в relay-канале.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bigkaa/goartstore/relay-bot/internal/api/handlers"
	"github.com/bigkaa/goartstore/relay-bot/internal/api/middleware"
	"github.com/bigkaa/goartstore/relay-bot/internal/bot"
	"github.com/bigkaa/goartstore/relay-bot/internal/config"
	"github.com/bigkaa/goartstore/relay-bot/internal/replica"
	"github.com/bigkaa/goartstore/relay-bot/internal/server"
	"github.com/bigkaa/goartstore/relay-bot/internal/service"
	"github.com/bigkaa/goartstore/relay-bot/internal/storage/banlist"
	"github.com/bigkaa/goartstore/relay-bot/internal/storage/filestore"
	"github.com/bigkaa/goartstore/relay-bot/internal/storage/history"
	"github.com/bigkaa/goartstore/relay-bot/internal/storage/registry"
	"github.com/bigkaa/goartstore/relay-bot/internal/storage/wal"
	"github.com/bigkaa/goartstore/relay-bot/internal/telegram"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Relay-bot запускается",
		slog.String("version", config.Version),
		slog.String("mode", cfg.Mode),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Relay-bot остановлен с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Relay-bot остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 1. Директория данных ---

	// Журналы загружаются в память и пишутся одним процессом
	election := replica.NewElection(cfg.DataDir, "", cfg.ElectionRetryInterval, logger)
	if err := election.Acquire(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("захват директории данных: %w", err)
	}
	defer election.Release()

	// --- 2. Журналы ---

	users, err := registry.Open(filepath.Join(cfg.DataDir, "users.log"), logger)
	if err != nil {
		return fmt.Errorf("реестр пользователей: %w", err)
	}
	defer users.Close()

	bans, err := banlist.Open(filepath.Join(cfg.DataDir, "bans.log"), logger)
	if err != nil {
		return fmt.Errorf("список банов: %w", err)
	}
	defer bans.Close()

	hist, err := history.Open(filepath.Join(cfg.DataDir, "history.log"), logger)
	if err != nil {
		return fmt.Errorf("история загрузок: %w", err)
	}
	defer hist.Close()

	journal, err := wal.New(cfg.WALDir(), logger)
	if err != nil {
		return fmt.Errorf("журнал загрузок: %w", err)
	}

	spool, err := filestore.New(cfg.SpoolDir(), cfg.MaxDownloadSize)
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}

	logger.Info("Журналы загружены",
		slog.Int("users", users.Count()),
		slog.Int("banned", bans.Count()),
		slog.Int("history", hist.Count()),
	)

	// --- 3. Bot API ---

	client, err := telegram.New(telegram.Config{
		Token:       cfg.BotToken,
		RelayChatID: cfg.RelayChatID,
		Timeout:     cfg.APITimeout,
	}, logger)
	if err != nil {
		return err
	}

	linkBase := cfg.LinkBase
	if linkBase == "" {
		linkBase = "https://t.me/" + client.Username()
	}

	// --- 4. Сервисы ---

	var fetcher *service.Fetcher
	if len(cfg.AllowedExtensions) > 0 {
		fetcher = service.NewFetcher(spool, cfg.AllowedExtensions, cfg.FetchTimeout, logger)
	}

	relaySvc := service.NewRelayService(client, bans, hist, journal, fetcher, linkBase, logger)

	// Незавершённые записи истории после сбоя
	if _, err := relaySvc.RecoverJournal(); err != nil {
		return fmt.Errorf("восстановление журнала загрузок: %w", err)
	}

	broadcaster := service.NewBroadcaster(client, cfg.BroadcastDelay, logger)

	handler := bot.NewHandler(bot.HandlerDeps{
		Messenger:   client,
		Relay:       relaySvc,
		Registry:    users,
		Bans:        bans,
		Broadcaster: broadcaster,
		ServiceCtx:  ctx,
	}, bot.HandlerConfig{
		AdminIDs:          cfg.AdminIDs,
		LinkBase:          linkBase,
		HistoryLimit:      cfg.HistoryLimit,
		AllowedExtensions: cfg.AllowedExtensions,
	}, logger)

	dispatcher := bot.NewDispatcher(handler, client, bot.DispatcherConfig{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		DedupTTL:  cfg.DedupTTL,
	}, logger)

	// --- 5. Фоновые процессы ---

	gcSvc := service.NewGCService(journal, spool, cfg.SpoolMaxAge, cfg.GCInterval, logger)
	gcSvc.Start(ctx)
	defer gcSvc.Stop()

	var deps handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(dephealthConfig(cfg, client), logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		deps = dephealthSvc
		defer dephealthSvc.Stop()
	}

	// --- 6. HTTP ---

	routes := server.Routes{
		Health: handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir(), deps),
	}

	if cfg.AdminJWKSURL != "" {
		auth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.AdminJWKSURL,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return fmt.Errorf("JWT аутентификация: %w", err)
		}
		routes.Auth = auth
		routes.Admin = handlers.NewAdminHandler(relaySvc, users, bans, broadcaster)
		logger.Info("Административный API включён", slog.String("jwks_url", cfg.AdminJWKSURL))
	}

	// --- 7. Получение обновлений ---

	switch cfg.Mode {
	case config.ModeWebhook:
		routes.Webhook = handlers.NewWebhookHandler(cfg.WebhookSecret, dispatcher, logger)
		if err := client.SetWebhook(strings.TrimRight(cfg.WebhookURL, "/") + "/" + cfg.WebhookSecret); err != nil {
			return err
		}
	default:
		if err := client.DeleteWebhook(); err != nil {
			return err
		}
		go dispatcher.Feed(ctx, client.Updates(ctx))
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx)
	}()

	srv := server.New(cfg.Port, cfg.ShutdownTimeout, routes, logger)
	srvErr := srv.Run(ctx)

	// --- Graceful shutdown ---
	stop()
	logger.Info("Остановка обработки обновлений...")
	<-dispatchDone
	broadcaster.Wait()

	return srvErr
}

// dephealthConfig строит параметры мониторинга. Без RB_DEPHEALTH_URL
// проверяется getMe того же endpoint, через который работает клиент.
func dephealthConfig(cfg *config.Config, client *telegram.Client) service.DephealthConfig {
	dc := service.DephealthConfig{
		ServiceID:     cfg.ServiceID,
		Group:         cfg.DephealthGroup,
		TelegramURL:   cfg.DephealthURL,
		JWKSURL:       cfg.AdminJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if dc.TelegramURL == "" {
		if u, err := url.Parse(client.HealthURL()); err == nil {
			dc.TelegramURL = u.Scheme + "://" + u.Host
			dc.TelegramHealthPath = u.Path
		}
	}
	return dc
}
