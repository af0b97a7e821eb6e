// Пакет config — загрузка и валидация конфигурации relay-bot
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Режимы получения обновлений.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config содержит все параметры конфигурации relay-bot.
type Config struct {
	// Токен бота (обязательный)
	BotToken string
	// Идентификатор relay-канала, где хранятся файлы (обязательный)
	RelayChatID int64
	// Администраторы бота (обязательный, через запятую)
	AdminIDs []int64
	// Директория журналов: пользователи, баны, история, журнал загрузок, spool
	DataDir string

	// Режим получения обновлений: polling или webhook
	Mode string
	// Публичный URL webhook без секрета (только webhook)
	WebhookURL string
	// Секрет — последний сегмент пути webhook (только webhook)
	WebhookSecret string
	// Порт HTTP-сервера
	Port int

	// Количество обработчиков обновлений
	Workers int
	// Размер очереди обновлений
	QueueSize int
	// Время жизни записи в кэше дедупликации update_id
	DedupTTL time.Duration

	// Максимальный размер файла, скачиваемого по URL
	MaxDownloadSize int64
	// Таймаут скачивания по URL
	FetchTimeout time.Duration
	// Допустимые расширения для загрузки по URL; пустой список — загрузка по URL отключена
	AllowedExtensions []string

	// Таймаут одного вызова Bot API
	APITimeout time.Duration
	// Пауза между отправками рассылки
	BroadcastDelay time.Duration
	// Количество записей в /history
	HistoryLimit int
	// Адрес бота для deep link; пустой — https://t.me/<username>
	LinkBase string

	// Интервал запуска GC
	GCInterval time.Duration
	// Возраст, после которого файл spool считается брошенным
	SpoolMaxAge time.Duration

	// URL JWKS endpoint; пустой — административный API отключён
	AdminJWKSURL string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допуск расхождения часов при проверке JWT
	JWTLeeway time.Duration

	// Базовый URL Bot API для мониторинга
	DephealthURL string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя вершины графа в topologymetrics
	ServiceID string
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
	// Интервал повторного захвата директории данных в режиме standby
	ElectionRetryInterval time.Duration
}

// WALDir — директория журнала загрузок.
func (c *Config) WALDir() string { return filepath.Join(c.DataDir, "wal") }

// SpoolDir — директория временных файлов загрузки по URL.
func (c *Config) SpoolDir() string { return filepath.Join(c.DataDir, "spool") }

// IsAdmin проверяет, входит ли пользователь в список администраторов.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// RB_BOT_TOKEN — обязательный
	cfg.BotToken, err = getEnvRequired("RB_BOT_TOKEN")
	if err != nil {
		return nil, err
	}

	// RB_RELAY_CHAT_ID — обязательный, идентификатор канала (обычно отрицательный)
	relay, err := getEnvRequired("RB_RELAY_CHAT_ID")
	if err != nil {
		return nil, err
	}
	cfg.RelayChatID, err = strconv.ParseInt(relay, 10, 64)
	if err != nil || cfg.RelayChatID == 0 {
		return nil, fmt.Errorf("RB_RELAY_CHAT_ID: некорректный идентификатор чата: %q", relay)
	}

	// RB_ADMIN_IDS — обязательный, список через запятую
	admins, err := getEnvRequired("RB_ADMIN_IDS")
	if err != nil {
		return nil, err
	}
	cfg.AdminIDs, err = parseIDList(admins)
	if err != nil {
		return nil, fmt.Errorf("RB_ADMIN_IDS: %w", err)
	}

	cfg.DataDir = getEnvDefault("RB_DATA_DIR", "./data")

	// RB_MODE — polling (по умолчанию) или webhook
	cfg.Mode = getEnvDefault("RB_MODE", ModePolling)
	switch cfg.Mode {
	case ModePolling:
	case ModeWebhook:
		cfg.WebhookURL, err = getEnvRequired("RB_WEBHOOK_URL")
		if err != nil {
			return nil, fmt.Errorf("режим webhook: %w", err)
		}
		cfg.WebhookSecret, err = getEnvRequired("RB_WEBHOOK_SECRET")
		if err != nil {
			return nil, fmt.Errorf("режим webhook: %w", err)
		}
		if strings.ContainsAny(cfg.WebhookSecret, "/?#") {
			return nil, fmt.Errorf("RB_WEBHOOK_SECRET: секрет не должен содержать символы / ? #")
		}
	default:
		return nil, fmt.Errorf("RB_MODE: недопустимое значение %q, допустимые: polling, webhook", cfg.Mode)
	}

	// RB_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("RB_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("RB_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("RB_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	if cfg.Workers, err = getEnvPositiveInt("RB_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = getEnvPositiveInt("RB_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = getEnvPositiveInt("RB_HISTORY_LIMIT", 5); err != nil {
		return nil, err
	}

	// RB_MAX_DOWNLOAD_SIZE — максимальный размер скачивания (по умолчанию 10 MiB)
	cfg.MaxDownloadSize, err = getEnvInt64("RB_MAX_DOWNLOAD_SIZE", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("RB_MAX_DOWNLOAD_SIZE: %w", err)
	}
	if cfg.MaxDownloadSize <= 0 {
		return nil, fmt.Errorf("RB_MAX_DOWNLOAD_SIZE: значение должно быть положительным")
	}

	// RB_ALLOWED_EXTENSIONS — допустимые расширения через запятую (".pdf,zip")
	cfg.AllowedExtensions = parseExtensions(getEnvDefault("RB_ALLOWED_EXTENSIONS", ""))

	cfg.LinkBase = strings.TrimRight(getEnvDefault("RB_LINK_BASE", ""), "/")

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"RB_DEDUP_TTL", 10 * time.Minute, &cfg.DedupTTL},
		{"RB_FETCH_TIMEOUT", 30 * time.Second, &cfg.FetchTimeout},
		{"RB_API_TIMEOUT", 20 * time.Second, &cfg.APITimeout},
		{"RB_BROADCAST_DELAY", 50 * time.Millisecond, &cfg.BroadcastDelay},
		{"RB_GC_INTERVAL", time.Hour, &cfg.GCInterval},
		{"RB_SPOOL_MAX_AGE", time.Hour, &cfg.SpoolMaxAge},
		{"RB_JWKS_CLIENT_TIMEOUT", 10 * time.Second, &cfg.JWKSClientTimeout},
		{"RB_JWKS_REFRESH_INTERVAL", 15 * time.Minute, &cfg.JWKSRefreshInterval},
		{"RB_JWT_LEEWAY", 5 * time.Second, &cfg.JWTLeeway},
		{"RB_DEPHEALTH_CHECK_INTERVAL", 15 * time.Second, &cfg.DephealthCheckInterval},
		{"RB_SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
		{"RB_ELECTION_RETRY_INTERVAL", 5 * time.Second, &cfg.ElectionRetryInterval},
	}
	for _, d := range durations {
		*d.dst, err = getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if *d.dst < 0 {
			return nil, fmt.Errorf("%s: значение не может быть отрицательным", d.key)
		}
	}

	cfg.AdminJWKSURL = getEnvDefault("RB_ADMIN_JWKS_URL", "")
	cfg.DephealthURL = getEnvDefault("RB_DEPHEALTH_URL", "")
	cfg.ServiceID = getEnvDefault("RB_SERVICE_ID", "relay-bot")
	cfg.DephealthGroup = getEnvDefault("RB_DEPHEALTH_GROUP", "relay-bot")

	// RB_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RB_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RB_LOG_LEVEL: %w", err)
	}

	// RB_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("RB_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RB_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPositiveInt — getEnvInt с проверкой n > 0. Ошибка содержит имя переменной.
func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 50ms, 30s, 1h)", val)
	}
	return d, nil
}

// parseIDList разбирает список идентификаторов через запятую.
func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("некорректный идентификатор: %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("список пуст")
	}
	return ids, nil
}

// parseExtensions нормализует расширения: нижний регистр, с точкой.
func parseExtensions(s string) []string {
	var exts []string
	for _, part := range strings.Split(s, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return exts
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
