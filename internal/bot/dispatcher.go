package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rb_updates_total",
		Help: "Количество входящих обновлений по виду",
	}, []string{"kind"})

	updateQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rb_update_queue_depth",
		Help: "Количество обновлений в очереди на обработку",
	})
)

// dedupCacheSize — сколько последних update_id помнит дедупликация.
const dedupCacheSize = 10000

// UpdateHandler — обработчик одного обновления.
type UpdateHandler interface {
	Handle(ctx context.Context, u tgbotapi.Update) error
}

// DispatcherConfig — параметры пула обработчиков.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	DedupTTL  time.Duration
}

// Dispatcher — очередь обновлений и пул обработчиков фиксированного
// размера. Повторные update_id отбрасываются. Паника или непредвиденная
// ошибка обработчика логируется, пользователь получает общий ответ;
// процесс и воркер продолжают работу.
type Dispatcher struct {
	handler   UpdateHandler
	messenger Messenger
	workers   int
	queue     chan tgbotapi.Update

	seenMu sync.Mutex
	seen   *expirable.LRU[int, struct{}]

	logger *slog.Logger
}

// NewDispatcher создаёт диспетчер.
func NewDispatcher(handler UpdateHandler, messenger Messenger, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = workers
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Dispatcher{
		handler:   handler,
		messenger: messenger,
		workers:   workers,
		queue:     make(chan tgbotapi.Update, queueSize),
		seen:      expirable.NewLRU[int, struct{}](dedupCacheSize, nil, ttl),
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// Enqueue ставит обновление в очередь. Блокируется, пока очередь
// заполнена. false — дубликат или ctx отменён.
func (d *Dispatcher) Enqueue(ctx context.Context, u tgbotapi.Update) bool {
	if d.isDuplicate(u.UpdateID) {
		updatesTotal.WithLabelValues("duplicate").Inc()
		d.logger.Debug("Повторное обновление отброшено", slog.Int("update_id", u.UpdateID))
		return false
	}

	select {
	case d.queue <- u:
		updateQueueDepth.Inc()
		return true
	case <-ctx.Done():
		return false
	}
}

// Feed переносит обновления из источника (long polling) в очередь
// до закрытия источника или отмены ctx.
func (d *Dispatcher) Feed(ctx context.Context, src <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-src:
			if !ok {
				return
			}
			d.Enqueue(ctx, u)
		}
	}
}

// Run обрабатывает очередь до отмены ctx. Обновления, взятые
// в обработку, завершаются после отмены: их вызовы Bot API
// ограничены собственным таймаутом клиента.
func (d *Dispatcher) Run(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(d.workers)

	handlerCtx := context.WithoutCancel(ctx)

	d.logger.Info("Обработка обновлений запущена", slog.Int("workers", d.workers))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case u := <-d.queue:
			updateQueueDepth.Dec()
			// Go блокируется, пока заняты все воркеры
			g.Go(func() error {
				d.process(handlerCtx, u)
				return nil
			})
		}
	}

	_ = g.Wait()
	d.logger.Info("Обработка обновлений остановлена",
		slog.Int("dropped", len(d.queue)),
	)
}

// process обрабатывает одно обновление с восстановлением после паники.
func (d *Dispatcher) process(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			updatesTotal.WithLabelValues("panic").Inc()
			d.logger.Error("Паника при обработке обновления",
				slog.Int("update_id", u.UpdateID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			d.replyGeneric(ctx, u)
		}
	}()

	if err := d.handler.Handle(ctx, u); err != nil {
		updatesTotal.WithLabelValues("error").Inc()
		attrs := []any{
			slog.Int("update_id", u.UpdateID),
			slog.String("error", err.Error()),
		}
		if u.Message != nil && u.Message.From != nil {
			attrs = append(attrs, slog.Int64("user_id", u.Message.From.ID))
		}
		d.logger.Error("Ошибка обработки обновления", attrs...)
		d.replyGeneric(ctx, u)
	}
}

func (d *Dispatcher) replyGeneric(ctx context.Context, u tgbotapi.Update) {
	if u.Message == nil || u.Message.Chat == nil {
		return
	}
	if err := d.messenger.SendText(ctx, u.Message.Chat.ID, ReplyGeneric); err != nil {
		d.logger.Warn("Не удалось отправить ответ об ошибке",
			slog.Int64("chat_id", u.Message.Chat.ID),
			slog.String("error", err.Error()),
		)
	}
}

// isDuplicate отмечает update_id как увиденный и сообщает, был ли он уже.
func (d *Dispatcher) isDuplicate(updateID int) bool {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()

	if d.seen.Contains(updateID) {
		return true
	}
	d.seen.Add(updateID, struct{}{})
	return false
}
