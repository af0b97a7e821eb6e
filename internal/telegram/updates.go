package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Updates запускает long polling и возвращает канал обновлений.
// Канал закрывается после отмены ctx.
func (c *Client) Updates(ctx context.Context) <-chan tgbotapi.Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = c.pollTimeout
	cfg.AllowedUpdates = []string{"message"}

	src := c.bot.GetUpdatesChan(cfg)
	out := make(chan tgbotapi.Update)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				c.logger.Info("Long polling остановлен")
				return
			case u, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- u:
				case <-ctx.Done():
					c.bot.StopReceivingUpdates()
					return
				}
			}
		}
	}()

	c.logger.Info("Long polling запущен", slog.Int("timeout_sec", c.pollTimeout))
	return out
}

// SetWebhook регистрирует webhook. При переходе в режим polling
// вызывается DeleteWebhook.
func (c *Client) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("некорректный URL webhook: %w", err)
	}
	wh.AllowedUpdates = []string{"message"}

	if _, err := c.bot.Request(wh); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	c.logger.Info("Webhook зарегистрирован")
	return nil
}

// DeleteWebhook снимает webhook, не удаляя ожидающие обновления.
func (c *Client) DeleteWebhook() error {
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	return nil
}
