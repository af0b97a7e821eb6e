// relay.go — оркестратор загрузки и извлечения файлов.
//
// Загрузка: проверка бана → запись в relay-канал → выпуск токена →
// запись истории → ответ. Сбой записи в relay-канал завершает запрос
// без токена. Сбой записи истории после успешной записи в relay-канал
// только логируется: пользователь получает токен, а запись журнала
// загрузок остаётся pending и будет дописана при следующем старте.
//
// Извлечение: проверка бана → декодирование токена → copyMessage
// из relay-канала в чат запросившего.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/flow"
	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/relay-bot/internal/domain/token"
	"github.com/bigkaa/goartstore/relay-bot/internal/storage/filestore"
	"github.com/bigkaa/goartstore/relay-bot/internal/storage/wal"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rb_uploads_total",
		Help: "Количество загрузок по источнику и исходу",
	}, []string{"source", "outcome"})

	retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rb_retrievals_total",
		Help: "Количество запросов файлов по токену по исходу",
	}, []string{"outcome"})
)

// RelayStore — relay-канал платформы.
type RelayStore interface {
	ForwardToRelay(ctx context.Context, fromChatID int64, messageID int) (int, error)
	UploadToRelay(ctx context.Context, path, name string) (int, error)
	CopyFromRelay(ctx context.Context, toChatID int64, relayMessageID int) error
}

// BanChecker — список банов.
type BanChecker interface {
	IsBanned(userID int64) bool
}

// HistoryStore — журнал истории загрузок.
type HistoryStore interface {
	Append(rec model.HistoryRecord) error
	Recent(userID int64, limit int) []model.HistoryRecord
	Contains(userID int64, link string) bool
}

// Journal — журнал незавершённых загрузок.
type Journal interface {
	StartTransaction(op wal.OperationType, rec model.HistoryRecord, relayMsgID int) (*wal.Entry, error)
	Commit(txID string) error
	RecoverPending() ([]*wal.Entry, error)
}

// UploadRequest — файл, присланный пользователем.
type UploadRequest struct {
	UserID    int64
	ChatID    int64
	MessageID int
	// Label — имя файла или тип содержимого для истории и ответа
	Label string
	Size  int64
	Kind  string
}

// RelayService — оркестратор загрузки и извлечения.
type RelayService struct {
	relay   RelayStore
	bans    BanChecker
	history HistoryStore
	journal Journal
	fetcher *Fetcher
	spool   *filestore.FileStore

	linkBase string
	uploads  atomic.Int64
	now      func() time.Time
	logger   *slog.Logger
}

// NewRelayService создаёт оркестратор. linkBase — адрес бота для
// deep link (https://t.me/<username>). journal и fetcher могут быть nil.
func NewRelayService(
	relay RelayStore,
	bans BanChecker,
	history HistoryStore,
	journal Journal,
	fetcher *Fetcher,
	linkBase string,
	logger *slog.Logger,
) *RelayService {
	s := &RelayService{
		relay:    relay,
		bans:     bans,
		history:  history,
		journal:  journal,
		fetcher:  fetcher,
		linkBase: strings.TrimRight(linkBase, "/"),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "relay")),
	}
	if fetcher != nil {
		s.spool = fetcher.spool
	}
	return s
}

// Link возвращает deep link для токена.
func (s *RelayService) Link(tok string) string {
	return s.linkBase + "?start=" + tok
}

// SessionUploads возвращает количество загрузок с момента старта процесса.
// Счётчик не персистентный.
func (s *RelayService) SessionUploads() int64 {
	return s.uploads.Load()
}

// Upload сохраняет присланный файл: forward в relay-канал, токен, история.
func (s *RelayService) Upload(ctx context.Context, req UploadRequest) (*model.UploadResult, error) {
	tr := flow.NewUpload(false)

	result, err := s.upload(ctx, tr, &req, wal.OpFileUpload, func(ctx context.Context) (int, error) {
		return s.relay.ForwardToRelay(ctx, req.ChatID, req.MessageID)
	})
	s.finish(tr, "file", req.UserID, err)
	return result, err
}

// UploadURL скачивает файл по ссылке и сохраняет его в relay-канал.
func (s *RelayService) UploadURL(ctx context.Context, userID int64, rawURL string) (*model.UploadResult, error) {
	tr := flow.NewUpload(true)

	if s.fetcher == nil {
		err := fmt.Errorf("%w: загрузка по ссылке отключена", ErrDownloadFailed)
		s.finish(tr, "url", userID, err)
		return nil, err
	}

	req := UploadRequest{UserID: userID, Kind: "Document"}
	var spooled *filestore.SaveResult

	result, err := s.upload(ctx, tr, &req, wal.OpURLUpload, func(ctx context.Context) (int, error) {
		saved, err := s.fetcher.Fetch(ctx, rawURL, userID)
		if err != nil {
			return 0, err
		}
		spooled = saved
		if err := tr.Advance(flow.StateFetched); err != nil {
			return 0, err
		}
		req.Label = saved.Name
		req.Size = saved.Size
		return s.relay.UploadToRelay(ctx, saved.FullPath, saved.Name)
	})

	if spooled != nil {
		if err := s.spool.DeleteFile(spooled.FullPath); err != nil {
			s.logger.Warn("Не удалось удалить файл spool",
				slog.String("path", spooled.FullPath),
				slog.String("error", err.Error()),
			)
		}
	}

	s.finish(tr, "url", userID, err)
	return result, err
}

// upload — общий конвейер загрузки. store выполняет запись в relay-канал
// (для ссылок — вместе со скачиванием, дополняя req) и возвращает relay message_id.
func (s *RelayService) upload(
	ctx context.Context,
	tr *flow.Tracker,
	req *UploadRequest,
	op wal.OperationType,
	store func(ctx context.Context) (int, error),
) (*model.UploadResult, error) {
	// 1. Проверка бана до любых действий с relay-каналом
	if s.bans.IsBanned(req.UserID) {
		return nil, ErrBanned
	}
	if err := tr.Advance(flow.StateBanChecked); err != nil {
		return nil, err
	}

	// 2. Запись в relay-канал
	relayMsgID, err := store(ctx)
	if err != nil {
		if errors.Is(err, ErrDownloadFailed) {
			return nil, err
		}
		var te *flow.TransitionError
		if errors.As(err, &te) {
			return nil, err
		}
		s.logger.Error("Ошибка записи в relay-канал",
			slog.Int64("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := tr.Advance(flow.StateStored); err != nil {
		return nil, err
	}

	// 3. Выпуск токена: только после подтверждённой записи
	tok := token.New(req.UserID, relayMsgID, s.now()).String()
	label := req.Label
	if strings.TrimSpace(label) == "" {
		label = req.Kind
	}
	result := &model.UploadResult{
		Token: tok,
		Link:  s.Link(tok),
		Label: label,
		Size:  req.Size,
		Kind:  req.Kind,
	}
	if err := tr.Advance(flow.StateTokenized); err != nil {
		return nil, err
	}
	s.uploads.Add(1)

	// 4. История: сбой не отменяет выдачу токена
	rec := model.HistoryRecord{UserID: req.UserID, Label: label, Link: result.Link}
	if s.recordHistory(op, rec, relayMsgID) {
		result.HistoryRecorded = true
		if err := tr.Advance(flow.StateRecorded); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Файл сохранён",
		slog.Int64("user_id", req.UserID),
		slog.Int("relay_message_id", relayMsgID),
		slog.String("kind", req.Kind),
		slog.Bool("history_recorded", result.HistoryRecorded),
	)
	return result, nil
}

// recordHistory пишет историю под защитой журнала загрузок.
func (s *RelayService) recordHistory(op wal.OperationType, rec model.HistoryRecord, relayMsgID int) bool {
	var entry *wal.Entry
	if s.journal != nil {
		e, err := s.journal.StartTransaction(op, rec, relayMsgID)
		if err != nil {
			s.logger.Warn("Не удалось открыть запись журнала загрузок",
				slog.Int64("user_id", rec.UserID),
				slog.String("error", err.Error()),
			)
		}
		entry = e
	}

	if err := s.history.Append(rec); err != nil {
		s.logger.Error("Ошибка записи истории, токен выдан без записи",
			slog.Int64("user_id", rec.UserID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if entry != nil {
		if err := s.journal.Commit(entry.TransactionID); err != nil {
			s.logger.Warn("Не удалось закоммитить запись журнала загрузок",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// Retrieve копирует файл по токену в чат запросившего.
func (s *RelayService) Retrieve(ctx context.Context, requesterID, chatID int64, rawToken string) error {
	tr := flow.NewRetrieval()
	err := s.retrieve(ctx, tr, requesterID, chatID, rawToken)

	outcome := OutcomeOf(err)
	if rerr := tr.Reply(outcome); rerr != nil {
		s.logger.Error("Нарушен порядок обработки запроса", slog.String("error", rerr.Error()))
	}
	retrievalsTotal.WithLabelValues(string(outcome)).Inc()
	return err
}

func (s *RelayService) retrieve(ctx context.Context, tr *flow.Tracker, requesterID, chatID int64, rawToken string) error {
	if s.bans.IsBanned(requesterID) {
		return ErrBanned
	}
	if err := tr.Advance(flow.StateBanChecked); err != nil {
		return err
	}

	tok, err := token.Decode(strings.TrimSpace(rawToken))
	if err != nil {
		return err
	}
	if err := tr.Advance(flow.StateTokenDecoded); err != nil {
		return err
	}

	if err := s.relay.CopyFromRelay(ctx, chatID, tok.RelayMessageID); err != nil {
		if errors.Is(err, ErrRelayNotFound) {
			s.logger.Info("Файл по токену не найден в relay-канале",
				slog.Int64("requester_id", requesterID),
				slog.Int("relay_message_id", tok.RelayMessageID),
			)
			return err
		}
		return fmt.Errorf("ошибка копирования из relay-канала: %w", err)
	}
	if err := tr.Advance(flow.StateRelayCopyRequested); err != nil {
		return err
	}

	s.logger.Debug("Файл выдан по токену",
		slog.Int64("requester_id", requesterID),
		slog.Int64("uploader_id", tok.UploaderID),
		slog.Int("relay_message_id", tok.RelayMessageID),
	)
	return nil
}

// Recent возвращает последние загрузки пользователя.
func (s *RelayService) Recent(userID int64, limit int) []model.HistoryRecord {
	return s.history.Recent(userID, limit)
}

// RecoverJournal дописывает в историю записи незавершённых загрузок.
// Уже присутствующие записи не дублируются.
func (s *RelayService) RecoverJournal() (int, error) {
	if s.journal == nil {
		return 0, nil
	}

	pending, err := s.journal.RecoverPending()
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения журнала загрузок: %w", err)
	}

	recovered := 0
	for _, e := range pending {
		rec := model.HistoryRecord{UserID: e.UserID, Label: e.Label, Link: e.Link}
		if !s.history.Contains(rec.UserID, rec.Link) {
			if err := s.history.Append(rec); err != nil {
				return recovered, fmt.Errorf("не удалось восстановить запись истории %s: %w", e.TransactionID, err)
			}
			recovered++
		}
		if err := s.journal.Commit(e.TransactionID); err != nil {
			return recovered, fmt.Errorf("не удалось закоммитить %s: %w", e.TransactionID, err)
		}
	}

	if len(pending) > 0 {
		s.logger.Info("Журнал загрузок восстановлен",
			slog.Int("pending", len(pending)),
			slog.Int("recovered", recovered),
		)
	}
	return recovered, nil
}

// finish переводит автомат в терминальное состояние и считает метрики.
func (s *RelayService) finish(tr *flow.Tracker, source string, userID int64, err error) {
	outcome := OutcomeOf(err)
	if rerr := tr.Reply(outcome); rerr != nil {
		s.logger.Error("Нарушен порядок обработки запроса",
			slog.Int64("user_id", userID),
			slog.String("state", string(tr.Current())),
			slog.String("error", rerr.Error()),
		)
	}
	uploadsTotal.WithLabelValues(source, string(outcome)).Inc()
}
