// gc.go — фоновая очистка рабочих директорий.
//
// Две задачи:
//  1. Удаление завершённых (committed/rolled_back) записей журнала загрузок
//  2. Удаление файлов spool, оставшихся после сбоев (старше SpoolMaxAge)
//
// Запускается горутиной с периодическим тикером (RB_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rb_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	gcWALCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rb_gc_wal_cleaned_total",
		Help: "Количество удалённых завершённых записей журнала загрузок",
	})

	gcSpoolCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rb_gc_spool_cleaned_total",
		Help: "Количество удалённых устаревших файлов spool",
	})

	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rb_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// JournalCleaner — журнал загрузок (*wal.WAL).
type JournalCleaner interface {
	CleanCommitted() (int, error)
}

// SpoolCleaner — spool скачанных файлов (*filestore.FileStore).
type SpoolCleaner interface {
	CleanStale(maxAge time.Duration) (int, error)
}

// GCResult — результат одного запуска GC.
type GCResult struct {
	WALCleaned   int
	SpoolCleaned int
	Errors       int
	Duration     time.Duration
}

// GCService — сервис фоновой очистки.
type GCService struct {
	journal     JournalCleaner
	spool       SpoolCleaner
	spoolMaxAge time.Duration
	interval    time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGCService создаёт сервис GC.
func NewGCService(
	journal JournalCleaner,
	spool SpoolCleaner,
	spoolMaxAge time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		journal:     journal,
		spool:       spool,
		spoolMaxAge: spoolMaxAge,
		interval:    interval,
		logger:      logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.done = make(chan struct{})

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
	)
}

// Stop останавливает GC и дожидается завершения текущего цикла.
func (gc *GCService) Stop() {
	if gc.cancel == nil {
		return
	}
	gc.cancel()
	<-gc.done
	gc.logger.Info("GC остановлен")
}

func (gc *GCService) run(ctx context.Context) {
	defer close(gc.done)

	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC. Параллельные вызовы сериализуются.
func (gc *GCService) RunOnce() *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	if gc.journal != nil {
		n, err := gc.journal.CleanCommitted()
		if err != nil {
			result.Errors++
			gc.logger.Error("Ошибка очистки журнала загрузок", slog.String("error", err.Error()))
		}
		result.WALCleaned = n
	}

	if gc.spool != nil {
		n, err := gc.spool.CleanStale(gc.spoolMaxAge)
		if err != nil {
			result.Errors++
			gc.logger.Error("Ошибка очистки spool", slog.String("error", err.Error()))
		}
		result.SpoolCleaned = n
	}

	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcWALCleanedTotal.Add(float64(result.WALCleaned))
	gcSpoolCleanedTotal.Add(float64(result.SpoolCleaned))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	if result.WALCleaned > 0 || result.SpoolCleaned > 0 || result.Errors > 0 {
		gc.logger.Info("GC завершён",
			slog.Int("wal_cleaned", result.WALCleaned),
			slog.Int("spool_cleaned", result.SpoolCleaned),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}
