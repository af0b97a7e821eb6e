// Пакет bot — обработка входящих обновлений платформы.
//
// Handler разбирает одно сообщение: команды, загрузку вложений и
// ссылок, выдачу файла по токену. Ожидаемые ошибки (бан, неверный
// токен, сбой загрузки) превращаются в ответ пользователю внутри
// Handler; непредвиденные возвращаются Dispatcher, который логирует
// их и отправляет общий ответ.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/relay-bot/internal/service"
	"github.com/bigkaa/goartstore/relay-bot/internal/telegram"
)

// Messenger — отправка ответов пользователю.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Relay — оркестратор загрузки и извлечения.
type Relay interface {
	Upload(ctx context.Context, req service.UploadRequest) (*model.UploadResult, error)
	UploadURL(ctx context.Context, userID int64, rawURL string) (*model.UploadResult, error)
	Retrieve(ctx context.Context, requesterID, chatID int64, rawToken string) error
	Recent(userID int64, limit int) []model.HistoryRecord
	SessionUploads() int64
}

// Registry — реестр пользователей.
type Registry interface {
	Record(userID int64) (bool, error)
	All() []int64
	Count() int
}

// BanList — управление банами.
type BanList interface {
	Ban(userID int64) (bool, error)
	Unban(userID int64) (bool, error)
}

// Broadcaster — запуск рассылки.
type Broadcaster interface {
	Start(ctx context.Context, payload model.Payload, recipients []int64, onDone func(model.BroadcastOutcome)) string
}

// HandlerConfig — параметры обработчика.
type HandlerConfig struct {
	AdminIDs     []int64
	LinkBase     string
	HistoryLimit int
	// AllowedExtensions — для текста ответа на неподдерживаемую ссылку
	AllowedExtensions []string
}

// HandlerDeps — зависимости обработчика.
type HandlerDeps struct {
	Messenger   Messenger
	Relay       Relay
	Registry    Registry
	Bans        BanList
	Broadcaster Broadcaster
	// ServiceCtx — контекст сервиса для фоновых рассылок
	ServiceCtx context.Context
}

// Handler обрабатывает сообщения.
type Handler struct {
	deps   HandlerDeps
	cfg    HandlerConfig
	admins map[int64]bool
	logger *slog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(deps HandlerDeps, cfg HandlerConfig, logger *slog.Logger) *Handler {
	admins := make(map[int64]bool, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = true
	}
	if deps.ServiceCtx == nil {
		deps.ServiceCtx = context.Background()
	}
	return &Handler{
		deps:   deps,
		cfg:    cfg,
		admins: admins,
		logger: logger.With(slog.String("component", "bot")),
	}
}

// Handle обрабатывает одно обновление. Возвращает только непредвиденные ошибки.
func (h *Handler) Handle(ctx context.Context, u tgbotapi.Update) error {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		updatesTotal.WithLabelValues("ignored").Inc()
		return nil
	}

	userID := msg.From.ID
	if added, err := h.deps.Registry.Record(userID); err != nil {
		h.logger.Warn("Не удалось записать пользователя в реестр",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	} else if added {
		h.logger.Debug("Новый пользователь", slog.Int64("user_id", userID))
	}

	if msg.IsCommand() {
		updatesTotal.WithLabelValues("command").Inc()
		return h.handleCommand(ctx, msg)
	}

	if att, ok := telegram.AttachmentOf(msg); ok {
		updatesTotal.WithLabelValues("upload").Inc()
		res, err := h.deps.Relay.Upload(ctx, service.UploadRequest{
			UserID:    userID,
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			Label:     att.Label,
			Size:      att.Size,
			Kind:      att.Kind,
		})
		return h.replyUpload(ctx, msg.Chat.ID, res, err)
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "":
		updatesTotal.WithLabelValues("ignored").Inc()
		return nil
	case service.IsURL(text):
		updatesTotal.WithLabelValues("url").Inc()
		res, err := h.deps.Relay.UploadURL(ctx, userID, text)
		return h.replyUpload(ctx, msg.Chat.ID, res, err)
	default:
		updatesTotal.WithLabelValues("token").Inc()
		err := h.deps.Relay.Retrieve(ctx, userID, msg.Chat.ID, text)
		return h.replyError(ctx, msg.Chat.ID, err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		if args != "" {
			err := h.deps.Relay.Retrieve(ctx, msg.From.ID, chatID, args)
			return h.replyError(ctx, chatID, err)
		}
		return h.send(ctx, chatID, welcomeReply(msg.From.FirstName))
	case "help":
		return h.send(ctx, chatID, helpReply(h.cfg.LinkBase))
	case "history":
		return h.send(ctx, chatID, historyReply(h.deps.Relay.Recent(msg.From.ID, h.cfg.HistoryLimit)))
	case "stats":
		return h.send(ctx, chatID, statsReply(h.deps.Relay.SessionUploads(), h.deps.Registry.Count()))
	case "announce":
		return h.announce(ctx, msg, args)
	case "ban":
		return h.ban(ctx, msg, args, true)
	case "unban":
		return h.ban(ctx, msg, args, false)
	default:
		return h.send(ctx, chatID, ReplyUnknown)
	}
}

// announce запускает рассылку и сразу подтверждает запуск.
// Итог приходит администратору отдельным сообщением.
func (h *Handler) announce(ctx context.Context, msg *tgbotapi.Message, args string) error {
	chatID := msg.Chat.ID
	if !h.admins[msg.From.ID] {
		return h.replyError(ctx, chatID, service.ErrUnauthorized)
	}

	var payload model.Payload
	switch {
	case msg.ReplyToMessage != nil:
		payload = telegram.PayloadFromMessage(msg.ReplyToMessage)
	case args != "":
		payload = model.Payload{Kind: model.PayloadText, Text: args}
	default:
		return h.send(ctx, chatID, ReplyAnnounceUsage)
	}

	recipients := h.deps.Registry.All()
	if len(recipients) == 0 {
		return h.send(ctx, chatID, ReplyNoRecipients)
	}

	adminID := msg.From.ID
	runID := h.deps.Broadcaster.Start(h.deps.ServiceCtx, payload, recipients, func(o model.BroadcastOutcome) {
		// Контекст сервиса уже может быть отменён при остановке
		sendCtx := context.WithoutCancel(h.deps.ServiceCtx)
		if err := h.deps.Messenger.SendText(sendCtx, chatID, broadcastDoneReply(o)); err != nil {
			h.logger.Warn("Не удалось отправить итог рассылки",
				slog.String("run_id", o.RunID),
				slog.String("error", err.Error()),
			)
		}
	})

	h.logger.Info("Рассылка запущена администратором",
		slog.Int64("admin_id", adminID),
		slog.String("run_id", runID),
		slog.Int("recipients", len(recipients)),
	)
	return h.send(ctx, chatID, broadcastStartedReply(len(recipients), runID))
}

func (h *Handler) ban(ctx context.Context, msg *tgbotapi.Message, args string, ban bool) error {
	chatID := msg.Chat.ID
	if !h.admins[msg.From.ID] {
		return h.replyError(ctx, chatID, service.ErrUnauthorized)
	}

	cmd := "/unban"
	if ban {
		cmd = "/ban"
	}
	target, err := strconv.ParseInt(args, 10, 64)
	if err != nil || target <= 0 {
		return h.send(ctx, chatID, fmt.Sprintf("❌ Usage: %s <user_id>", cmd))
	}

	if !ban {
		changed, err := h.deps.Bans.Unban(target)
		if err != nil {
			return fmt.Errorf("ошибка снятия бана %d: %w", target, err)
		}
		if !changed {
			return h.send(ctx, chatID, fmt.Sprintf("ℹ️ User %d was not banned.", target))
		}
		h.logger.Info("Бан снят", slog.Int64("admin_id", msg.From.ID), slog.Int64("user_id", target))
		return h.send(ctx, chatID, fmt.Sprintf("✅ User %d has been unbanned.", target))
	}

	if h.admins[target] {
		return h.send(ctx, chatID, "❌ Admins cannot be banned.")
	}
	changed, err := h.deps.Bans.Ban(target)
	if err != nil {
		return fmt.Errorf("ошибка бана %d: %w", target, err)
	}
	if !changed {
		return h.send(ctx, chatID, fmt.Sprintf("ℹ️ User %d is already banned.", target))
	}
	h.logger.Info("Пользователь заблокирован", slog.Int64("admin_id", msg.From.ID), slog.Int64("user_id", target))
	return h.send(ctx, chatID, fmt.Sprintf("🚫 User %d has been banned.", target))
}

func (h *Handler) replyUpload(ctx context.Context, chatID int64, res *model.UploadResult, err error) error {
	if err != nil {
		return h.replyError(ctx, chatID, err)
	}
	return h.send(ctx, chatID, uploadReply(res))
}

// replyError отвечает на ожидаемую ошибку; nil — ответа не требуется
// (успешная выдача файла сама является ответом).
func (h *Handler) replyError(ctx context.Context, chatID int64, err error) error {
	if err == nil {
		return nil
	}
	text, ok := replyFor(err, h.cfg.AllowedExtensions)
	if !ok {
		return err
	}
	return h.send(ctx, chatID, text)
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) error {
	if err := h.deps.Messenger.SendText(ctx, chatID, text); err != nil {
		// Ответ не доставлен: повторный ответ тоже не дойдёт
		h.logger.Warn("Не удалось отправить ответ",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
