// broadcast.go — движок рассылки объявлений.
//
// Рассылка идёт по снимку реестра пользователей в порядке реестра.
// Между попытками доставки выдерживается минимальная пауза (rate limiter
// с burst 1), которая оплачивается независимо от исхода попытки.
// Ошибка доставки одному получателю учитывается в failed и не прерывает
// запуск. Пустой payload — no-op для каждого получателя (skipped).
//
// Запуск выполняется в отдельной горутине с контекстом сервиса,
// а не запроса: команда администратора сразу получает run_id.
// Запуск можно отменить; прогресс виден через Get/List.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
)

var (
	broadcastDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rb_broadcast_deliveries_total",
		Help: "Количество попыток доставки рассылки по исходу",
	}, []string{"result"})

	broadcastRunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rb_broadcast_runs_active",
		Help: "Количество выполняющихся рассылок",
	})
)

// maxFinishedRuns — сколько завершённых запусков хранится для Get/List.
const maxFinishedRuns = 50

// PayloadSender — отправка payload одному получателю.
type PayloadSender interface {
	SendPayload(ctx context.Context, chatID int64, p model.Payload) error
}

// broadcastRun — состояние одного запуска.
type broadcastRun struct {
	outcome model.BroadcastOutcome
	cancel  context.CancelFunc
}

// Broadcaster — движок рассылки.
type Broadcaster struct {
	sender PayloadSender
	delay  time.Duration
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*broadcastRun
	wg   sync.WaitGroup
}

// NewBroadcaster создаёт движок. delay — минимальная пауза между попытками.
func NewBroadcaster(sender PayloadSender, delay time.Duration, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		sender: sender,
		delay:  delay,
		logger: logger.With(slog.String("component", "broadcast")),
		runs:   make(map[string]*broadcastRun),
	}
}

// Run выполняет рассылку синхронно и возвращает итог.
func (b *Broadcaster) Run(ctx context.Context, payload model.Payload, recipients []int64) model.BroadcastOutcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := b.register(len(recipients), cancel)
	return b.execute(ctx, run, payload, recipients)
}

// Start запускает рассылку в фоне. ctx — контекст сервиса (не запроса):
// его отмена при shutdown прерывает рассылку. onDone вызывается
// с итогом после завершения, может быть nil. Возвращает run_id.
func (b *Broadcaster) Start(
	ctx context.Context,
	payload model.Payload,
	recipients []int64,
	onDone func(model.BroadcastOutcome),
) string {
	runCtx, cancel := context.WithCancel(ctx)
	run := b.register(len(recipients), cancel)

	snapshot := make([]int64, len(recipients))
	copy(snapshot, recipients)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		outcome := b.execute(runCtx, run, payload, snapshot)
		if onDone != nil {
			onDone(outcome)
		}
	}()

	return run.outcome.RunID
}

// Cancel отменяет выполняющуюся рассылку. false — запуск не найден или завершён.
func (b *Broadcaster) Cancel(runID string) bool {
	b.mu.RLock()
	run, ok := b.runs[runID]
	running := ok && run.outcome.Running
	b.mu.RUnlock()

	if !running {
		return false
	}
	run.cancel()
	b.logger.Info("Рассылка отменена", slog.String("run_id", runID))
	return true
}

// Get возвращает текущее состояние запуска.
func (b *Broadcaster) Get(runID string) (model.BroadcastOutcome, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	run, ok := b.runs[runID]
	if !ok {
		return model.BroadcastOutcome{}, false
	}
	return run.outcome, true
}

// List возвращает все известные запуски, новые первыми.
func (b *Broadcaster) List() []model.BroadcastOutcome {
	b.mu.RLock()
	result := make([]model.BroadcastOutcome, 0, len(b.runs))
	for _, run := range b.runs {
		result = append(result, run.outcome)
	}
	b.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}

// Wait дожидается завершения фоновых рассылок.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

// register создаёт запись запуска и вытесняет старые завершённые.
func (b *Broadcaster) register(total int, cancel context.CancelFunc) *broadcastRun {
	run := &broadcastRun{
		outcome: model.BroadcastOutcome{
			RunID:     uuid.New().String(),
			Total:     total,
			Running:   true,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.runs[run.outcome.RunID] = run
	b.pruneLocked()
	return run
}

func (b *Broadcaster) pruneLocked() {
	var finished []*broadcastRun
	for _, run := range b.runs {
		if !run.outcome.Running {
			finished = append(finished, run)
		}
	}
	if len(finished) <= maxFinishedRuns {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].outcome.StartedAt.Before(finished[j].outcome.StartedAt)
	})
	for _, run := range finished[:len(finished)-maxFinishedRuns] {
		delete(b.runs, run.outcome.RunID)
	}
}

// execute — основной цикл рассылки.
func (b *Broadcaster) execute(ctx context.Context, run *broadcastRun, payload model.Payload, recipients []int64) model.BroadcastOutcome {
	broadcastRunsActive.Inc()
	defer broadcastRunsActive.Dec()

	runID := run.outcome.RunID
	logger := b.logger.With(slog.String("run_id", runID))
	logger.Info("Рассылка начата",
		slog.Int("recipients", len(recipients)),
		slog.String("kind", string(payload.Kind)),
	)

	resolved, ok := payload.Resolve()

	limit := rate.Inf
	if b.delay > 0 {
		limit = rate.Every(b.delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, chatID := range recipients {
		if ctx.Err() != nil {
			b.update(run, func(o *model.BroadcastOutcome) { o.Cancelled = true })
			break
		}

		if !ok {
			b.update(run, func(o *model.BroadcastOutcome) {
				o.Attempted++
				o.Skipped++
			})
			broadcastDeliveriesTotal.WithLabelValues("skipped").Inc()
			continue
		}

		// Пауза между попытками: оплачивается до каждой попытки,
		// первая проходит сразу (burst 1)
		if err := limiter.Wait(ctx); err != nil {
			b.update(run, func(o *model.BroadcastOutcome) { o.Cancelled = true })
			break
		}

		err := b.sender.SendPayload(ctx, chatID, resolved)
		if err != nil && ctx.Err() != nil {
			// Попытка прервана отменой, не доставкой
			b.update(run, func(o *model.BroadcastOutcome) { o.Cancelled = true })
			break
		}
		if err != nil {
			logger.Warn("Не удалось доставить рассылку",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			broadcastDeliveriesTotal.WithLabelValues("failed").Inc()
		} else {
			broadcastDeliveriesTotal.WithLabelValues("succeeded").Inc()
		}

		b.update(run, func(o *model.BroadcastOutcome) {
			o.Attempted++
			if err != nil {
				o.Failed++
			} else {
				o.Succeeded++
			}
		})
	}

	var final model.BroadcastOutcome
	b.update(run, func(o *model.BroadcastOutcome) {
		now := time.Now().UTC()
		o.Running = false
		o.FinishedAt = &now
		final = *o
	})

	logger.Info("Рассылка завершена",
		slog.Int("attempted", final.Attempted),
		slog.Int("succeeded", final.Succeeded),
		slog.Int("failed", final.Failed),
		slog.Int("skipped", final.Skipped),
		slog.Bool("cancelled", final.Cancelled),
	)
	return final
}

// update изменяет состояние запуска под блокировкой.
func (b *Broadcaster) update(run *broadcastRun, fn func(o *model.BroadcastOutcome)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&run.outcome)
}
