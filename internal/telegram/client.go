// Пакет telegram — клиент Telegram Bot API.
//
// Тонкая обёртка над go-telegram-bot-api: relay-канал (forward, upload,
// copy), отправка сообщений и payload рассылки, источники обновлений
// (long polling, webhook). Ошибки «сообщение не найдено» приводятся
// к model.ErrRelayNotFound.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
)

// Config — параметры клиента.
type Config struct {
	Token       string
	RelayChatID int64
	// Timeout — таймаут одного вызова Bot API
	Timeout time.Duration
	// Endpoint — формат URL Bot API (по умолчанию tgbotapi.APIEndpoint)
	Endpoint string
	// PollTimeout — таймаут long polling в секундах
	PollTimeout int
}

// Client — клиент Bot API.
type Client struct {
	bot         *tgbotapi.BotAPI
	endpoint    string
	relayChatID int64
	pollTimeout int
	logger      *slog.Logger
}

// New создаёт клиента и проверяет токен вызовом getMe.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30
	}

	// getUpdates держит соединение pollTimeout секунд, HTTP-таймаут должен быть больше.
	timeout := cfg.Timeout
	if pollWindow := time.Duration(pollTimeout+10) * time.Second; timeout < pollWindow {
		timeout = pollWindow
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Bot API: %w", err)
	}

	c := &Client{
		bot:         bot,
		endpoint:    endpoint,
		relayChatID: cfg.RelayChatID,
		pollTimeout: pollTimeout,
		logger:      logger.With(slog.String("component", "telegram")),
	}
	c.logger.Info("Подключение к Bot API установлено",
		slog.String("username", bot.Self.UserName),
		slog.Int64("relay_chat_id", cfg.RelayChatID),
	)
	return c, nil
}

// Username возвращает имя бота (без @).
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// ForwardToRelay пересылает сообщение пользователя в relay-канал.
// Возвращает message_id в relay-канале.
func (c *Client) ForwardToRelay(ctx context.Context, fromChatID int64, messageID int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := c.bot.Send(tgbotapi.NewForward(c.relayChatID, fromChatID, messageID))
	if err != nil {
		return 0, fmt.Errorf("forwardMessage в relay-канал: %w", classify(err))
	}
	return msg.MessageID, nil
}

// UploadToRelay загружает локальный файл в relay-канал документом.
func (c *Client) UploadToRelay(ctx context.Context, path, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc := tgbotapi.NewDocument(c.relayChatID, tgbotapi.FilePath(path))
	doc.Caption = name
	msg, err := c.bot.Send(doc)
	if err != nil {
		return 0, fmt.Errorf("sendDocument в relay-канал: %w", classify(err))
	}
	return msg.MessageID, nil
}

// CopyFromRelay копирует сообщение relay-канала в чат пользователя.
func (c *Client) CopyFromRelay(ctx context.Context, toChatID int64, relayMessageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.CopyMessage(tgbotapi.NewCopyMessage(toChatID, c.relayChatID, relayMessageID)); err != nil {
		return fmt.Errorf("copyMessage из relay-канала: %w", classify(err))
	}
	return nil
}

// SendText отправляет текстовое сообщение без превью ссылок.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("sendMessage: %w", classify(err))
	}
	return nil
}

// SendPayload отправляет payload рассылки соответствующим методом API.
// Payload должен быть нормализован через Resolve.
func (c *Client) SendPayload(ctx context.Context, chatID int64, p model.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.Kind == model.PayloadCopy {
		_, err := c.bot.CopyMessage(tgbotapi.NewCopyMessage(chatID, p.SourceChatID, p.SourceMessageID))
		if err != nil {
			return fmt.Errorf("copyMessage: %w", classify(err))
		}
		return nil
	}

	chattable, err := BuildChattable(chatID, p)
	if err != nil {
		return err
	}
	if _, err := c.bot.Send(chattable); err != nil {
		return fmt.Errorf("send %s: %w", p.Kind, classify(err))
	}
	return nil
}

// HealthURL возвращает URL getMe для проверки доступности Bot API.
// Токен входит в путь, поэтому URL нельзя логировать.
func (c *Client) HealthURL() string {
	return fmt.Sprintf(c.endpoint, c.bot.Token, "getMe")
}

// classify приводит ошибки API «сообщение не найдено» к model.ErrRelayNotFound.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && isNotFound(apiErr.Message) {
		return fmt.Errorf("%w: %s", model.ErrRelayNotFound, apiErr.Message)
	}
	if isNotFound(err.Error()) {
		return fmt.Errorf("%w: %s", model.ErrRelayNotFound, err.Error())
	}
	return err
}

func isNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "message to copy not found") ||
		strings.Contains(msg, "message to forward not found") ||
		strings.Contains(msg, "message not found") ||
		strings.Contains(msg, "message_id_invalid")
}
