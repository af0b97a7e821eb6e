// Пакет registry — реестр пользователей, когда-либо писавших боту.
// Используется как список получателей рассылки.
//
// In-memory упорядоченное множество под sync.RWMutex; журнал на диске
// (один user id на строку) проигрывается при старте. Запись в журнал
// выполняется под той же блокировкой, поэтому порядок на диске
// совпадает с порядком в памяти.
package registry

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/bigkaa/goartstore/relay-bot/internal/storage/ledger"
)

// Registry — реестр пользователей.
type Registry struct {
	mu     sync.RWMutex
	ids    []int64
	seen   map[int64]struct{}
	ledger *ledger.Ledger
	logger *slog.Logger
}

// Open открывает журнал реестра и восстанавливает состояние.
// Повторы и некорректные строки журнала пропускаются.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	l, err := ledger.Open(path, logger)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		seen:   make(map[int64]struct{}),
		ledger: l,
		logger: logger.With(slog.String("component", "registry")),
	}

	skipped := 0
	if _, err := l.Replay(func(line string) error {
		id, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil {
			skipped++
			return nil
		}
		if _, ok := r.seen[id]; !ok {
			r.seen[id] = struct{}{}
			r.ids = append(r.ids, id)
		}
		return nil
	}); err != nil {
		l.Close()
		return nil, fmt.Errorf("ошибка восстановления реестра: %w", err)
	}

	if skipped > 0 {
		r.logger.Warn("Пропущены некорректные строки реестра", slog.Int("skipped", skipped))
	}
	r.logger.Info("Реестр пользователей загружен", slog.Int("users", len(r.ids)))

	return r, nil
}

// Record добавляет пользователя. Повторное добавление — no-op.
// Возвращает true, если пользователь добавлен впервые.
func (r *Registry) Record(userID int64) (bool, error) {
	r.mu.RLock()
	_, ok := r.seen[userID]
	r.mu.RUnlock()
	if ok {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[userID]; ok {
		return false, nil
	}
	if err := r.ledger.Append(strconv.FormatInt(userID, 10)); err != nil {
		return false, fmt.Errorf("не удалось записать пользователя %d: %w", userID, err)
	}
	r.seen[userID] = struct{}{}
	r.ids = append(r.ids, userID)
	return true, nil
}

// All возвращает снимок реестра в порядке первого появления.
// Снимок не меняется при последующих Record.
func (r *Registry) All() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]int64, len(r.ids))
	copy(result, r.ids)
	return result
}

// Contains проверяет наличие пользователя.
func (r *Registry) Contains(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.seen[userID]
	return ok
}

// Count возвращает количество пользователей.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Close закрывает журнал.
func (r *Registry) Close() error {
	return r.ledger.Close()
}
