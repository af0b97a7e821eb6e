package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/relay-bot/internal/service"
)

func TestHandle_DocumentUpload(t *testing.T) {
	env := newTestEnv()
	msg := textMessage(7, "")
	msg.Document = &tgbotapi.Document{FileID: "f", FileName: "report.pdf", FileSize: 1048576}

	if err := env.handler.Handle(context.Background(), update(1, msg)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(env.relay.uploadReqs) != 1 {
		t.Fatalf("ожидалась 1 загрузка, получено %d", len(env.relay.uploadReqs))
	}
	req := env.relay.uploadReqs[0]
	if req.UserID != 7 || req.Label != "report.pdf" || req.Kind != "Document" || req.Size != 1048576 {
		t.Errorf("неверный запрос загрузки: %+v", req)
	}

	reply := env.messenger.last().text
	if !strings.Contains(reply, "https://t.me/test_bot?start=1700000000_1_101") {
		t.Errorf("ответ не содержит ссылку: %q", reply)
	}
	if !strings.Contains(reply, "1.00 MB") {
		t.Errorf("ответ не содержит размер: %q", reply)
	}
	if env.registry.Count() != 1 {
		t.Error("отправитель должен попасть в реестр")
	}
}

func TestHandle_IgnoresBots(t *testing.T) {
	env := newTestEnv()
	msg := textMessage(7, "hello")
	msg.From.IsBot = true

	if err := env.handler.Handle(context.Background(), update(1, msg)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if env.messenger.count() != 0 || env.registry.Count() != 0 {
		t.Error("сообщения ботов должны игнорироваться")
	}
}

func TestHandle_URLAndTokenRouting(t *testing.T) {
	env := newTestEnv()

	_ = env.handler.Handle(context.Background(), update(1, textMessage(7, "https://example.com/a.pdf")))
	_ = env.handler.Handle(context.Background(), update(2, textMessage(7, " 1700000000_1_101 ")))

	if len(env.relay.urls) != 1 || env.relay.urls[0] != "https://example.com/a.pdf" {
		t.Errorf("ссылка не передана на загрузку: %v", env.relay.urls)
	}
	if len(env.relay.retrieved) != 1 || env.relay.retrieved[0] != "1700000000_1_101" {
		t.Errorf("токен не передан на выдачу: %v", env.relay.retrieved)
	}
}

func TestHandle_StartWithToken(t *testing.T) {
	env := newTestEnv()

	_ = env.handler.Handle(context.Background(), update(1, commandMessage(9, "/start 1700000000_1_101")))

	if len(env.relay.retrieved) != 1 || env.relay.retrieved[0] != "1700000000_1_101" {
		t.Fatalf("ожидалась выдача по токену, получено %v", env.relay.retrieved)
	}
	if env.messenger.count() != 0 {
		t.Errorf("успешная выдача не требует текстового ответа, получено %q", env.messenger.last().text)
	}
}

func TestHandle_StartWithoutToken(t *testing.T) {
	env := newTestEnv()

	_ = env.handler.Handle(context.Background(), update(1, commandMessage(9, "/start")))

	if len(env.relay.retrieved) != 0 {
		t.Error("без токена выдача не выполняется")
	}
	if !strings.Contains(env.messenger.last().text, "Hi Ann") {
		t.Errorf("ожидалось приветствие, получено %q", env.messenger.last().text)
	}
}

// TestHandle_ErrorReplies проверяет различимые ответы на ошибки.
func TestHandle_ErrorReplies(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"неверный токен", fmt.Errorf("x: %w", service.ErrInvalidToken), ReplyInvalidToken},
		{"файл удалён", service.ErrRelayNotFound, ReplyRelayNotFound},
		{"бан", service.ErrBanned, ReplyBanned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.relay.retrieveErr = tt.err

			if err := env.handler.Handle(context.Background(), update(1, textMessage(5, "abc"))); err != nil {
				t.Fatalf("ожидаемая ошибка не должна возвращаться: %v", err)
			}
			if got := env.messenger.last().text; got != tt.want {
				t.Errorf("ответ %q, ожидался %q", got, tt.want)
			}
		})
	}

	if ReplyInvalidToken == ReplyRelayNotFound {
		t.Error("ответы «неверная ссылка» и «файл не найден» должны различаться")
	}
}

func TestHandle_UploadErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"сбой relay", fmt.Errorf("%w: timeout", service.ErrUploadFailed), ReplyUploadFailed},
		{"сбой скачивания", fmt.Errorf("%w: HTTP 502", service.ErrDownloadFailed), ReplyDownloadFailed},
		{"неподдерживаемая ссылка", fmt.Errorf("%w: %w", service.ErrDownloadFailed, service.ErrUnsupportedURL), "not supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.relay.uploadErr = tt.err

			_ = env.handler.Handle(context.Background(), update(1, textMessage(5, "https://example.com/x.pdf")))
			if got := env.messenger.last().text; !strings.Contains(got, tt.want) {
				t.Errorf("ответ %q, ожидалось %q", got, tt.want)
			}
		})
	}
}

func TestHandle_UnexpectedErrorReturned(t *testing.T) {
	env := newTestEnv()
	env.relay.retrieveErr = errors.New("boom")

	if err := env.handler.Handle(context.Background(), update(1, textMessage(5, "abc"))); err == nil {
		t.Error("непредвиденная ошибка должна возвращаться диспетчеру")
	}
}

func TestHandle_UnknownCommand(t *testing.T) {
	env := newTestEnv()
	_ = env.handler.Handle(context.Background(), update(1, commandMessage(5, "/foo")))

	if got := env.messenger.last().text; got != ReplyUnknown {
		t.Errorf("ответ %q, ожидался %q", got, ReplyUnknown)
	}
}

func TestHandle_History(t *testing.T) {
	env := newTestEnv()

	_ = env.handler.Handle(context.Background(), update(1, commandMessage(5, "/history")))
	if got := env.messenger.last().text; got != ReplyNoHistory {
		t.Errorf("пустая история: %q", got)
	}

	env.relay.history = []model.HistoryRecord{
		{UserID: 5, Label: "a.pdf", Link: "link-a"},
		{UserID: 6, Label: "other", Link: "link-o"},
		{UserID: 5, Label: "b.zip", Link: "link-b"},
	}
	_ = env.handler.Handle(context.Background(), update(2, commandMessage(5, "/history")))

	got := env.messenger.last().text
	if !strings.Contains(got, "1. a.pdf") || !strings.Contains(got, "2. b.zip") || strings.Contains(got, "other") {
		t.Errorf("неверная история: %q", got)
	}
}

func TestHandle_Stats(t *testing.T) {
	env := newTestEnv()
	env.relay.uploads = 3

	_ = env.handler.Handle(context.Background(), update(1, commandMessage(5, "/stats")))
	if got := env.messenger.last().text; !strings.Contains(got, "session: 3") {
		t.Errorf("ответ %q", got)
	}
}

func TestHandle_AdminCommandsUnauthorized(t *testing.T) {
	for _, cmd := range []string{"/announce hi", "/ban 5", "/unban 5"} {
		env := newTestEnv()
		_ = env.handler.Handle(context.Background(), update(1, commandMessage(5, cmd)))

		if got := env.messenger.last().text; got != ReplyUnauthorized {
			t.Errorf("%s: ответ %q, ожидался %q", cmd, got, ReplyUnauthorized)
		}
		if len(env.broadcaster.payloads) != 0 || len(env.bans.banned) != 0 {
			t.Errorf("%s: действие не должно выполняться", cmd)
		}
	}
}

func TestHandle_BanUnban(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	steps := []struct {
		cmd  string
		want string
	}{
		{"/ban 42", "has been banned"},
		{"/ban 42", "already banned"},
		{"/unban 42", "has been unbanned"},
		{"/unban 42", "was not banned"},
		{"/ban abc", "Usage: /ban"},
		{fmt.Sprintf("/ban %d", testAdminID), "cannot be banned"},
	}

	for i, step := range steps {
		_ = env.handler.Handle(ctx, update(i, commandMessage(testAdminID, step.cmd)))
		if got := env.messenger.last().text; !strings.Contains(got, step.want) {
			t.Errorf("%s: ответ %q, ожидалось %q", step.cmd, got, step.want)
		}
	}
}

func TestHandle_AnnounceText(t *testing.T) {
	env := newTestEnv()
	_, _ = env.registry.Record(1)
	_, _ = env.registry.Record(2)

	_ = env.handler.Handle(context.Background(), update(1, commandMessage(testAdminID, "/announce Maintenance tonight")))

	if len(env.broadcaster.payloads) != 1 {
		t.Fatalf("ожидалась 1 рассылка, получено %d", len(env.broadcaster.payloads))
	}
	p := env.broadcaster.payloads[0]
	if p.Kind != model.PayloadText || p.Text != "Maintenance tonight" {
		t.Errorf("неверный payload: %+v", p)
	}
	// Администратор тоже попадает в реестр при отправке команды
	if got := len(env.broadcaster.recipients[0]); got != 3 {
		t.Errorf("получателей: %d, ожидалось 3", got)
	}

	var sawStarted, sawDone bool
	for _, m := range env.messenger.sent {
		if strings.Contains(m.text, "Broadcast started") {
			sawStarted = true
		}
		if strings.Contains(m.text, "Broadcast finished") && m.chatID == testAdminID {
			sawDone = true
		}
	}
	if !sawStarted || !sawDone {
		t.Errorf("ожидались подтверждение и итог рассылки: %+v", env.messenger.sent)
	}
}

func TestHandle_AnnounceReply(t *testing.T) {
	env := newTestEnv()

	msg := commandMessage(testAdminID, "/announce")
	msg.ReplyToMessage = &tgbotapi.Message{
		MessageID: 77,
		Chat:      &tgbotapi.Chat{ID: testAdminID},
		Photo:     []tgbotapi.PhotoSize{{FileID: "p1"}},
		Caption:   "New release",
	}
	_ = env.handler.Handle(context.Background(), update(1, msg))

	if len(env.broadcaster.payloads) != 1 {
		t.Fatalf("ожидалась 1 рассылка, получено %d", len(env.broadcaster.payloads))
	}
	if p := env.broadcaster.payloads[0]; p.Kind != model.PayloadPhoto || p.FileID != "p1" || p.Caption != "New release" {
		t.Errorf("неверный payload: %+v", p)
	}
}

func TestHandle_AnnounceUsage(t *testing.T) {
	env := newTestEnv()
	_ = env.handler.Handle(context.Background(), update(1, commandMessage(testAdminID, "/announce")))

	if got := env.messenger.last().text; got != ReplyAnnounceUsage {
		t.Errorf("ответ %q", got)
	}
	if len(env.broadcaster.payloads) != 0 {
		t.Error("рассылка не должна запускаться")
	}
}
