// Пакет banlist — список заблокированных пользователей.
//
// Бан дописывает строку в журнал, разбан перезаписывает журнал целиком.
// Пользователь может многократно переходить banned → unbanned → banned.
package banlist

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/bigkaa/goartstore/relay-bot/internal/storage/ledger"
)

// BanList — потокобезопасный список банов.
type BanList struct {
	mu     sync.RWMutex
	order  []int64
	banned map[int64]struct{}
	ledger *ledger.Ledger
	logger *slog.Logger
}

// Open открывает журнал банов и восстанавливает состояние.
func Open(path string, logger *slog.Logger) (*BanList, error) {
	l, err := ledger.Open(path, logger)
	if err != nil {
		return nil, err
	}

	b := &BanList{
		banned: make(map[int64]struct{}),
		ledger: l,
		logger: logger.With(slog.String("component", "banlist")),
	}

	if _, err := l.Replay(func(line string) error {
		id, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil {
			b.logger.Warn("Некорректная строка журнала банов", slog.String("line", line))
			return nil
		}
		b.add(id)
		return nil
	}); err != nil {
		l.Close()
		return nil, fmt.Errorf("ошибка восстановления списка банов: %w", err)
	}

	b.logger.Info("Список банов загружен", slog.Int("banned", len(b.order)))
	return b, nil
}

// Ban блокирует пользователя. Возвращает false, если пользователь уже заблокирован.
func (b *BanList) Ban(userID int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.banned[userID]; ok {
		return false, nil
	}
	if err := b.ledger.Append(strconv.FormatInt(userID, 10)); err != nil {
		return false, fmt.Errorf("не удалось записать бан %d: %w", userID, err)
	}
	b.add(userID)

	b.logger.Info("Пользователь заблокирован", slog.Int64("user_id", userID))
	return true, nil
}

// Unban снимает блокировку. Возвращает false, если пользователь не был заблокирован;
// в этом случае список и журнал не меняются.
func (b *BanList) Unban(userID int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.banned[userID]; !ok {
		return false, nil
	}

	remaining := make([]int64, 0, len(b.order))
	lines := make([]string, 0, len(b.order))
	for _, id := range b.order {
		if id == userID {
			continue
		}
		remaining = append(remaining, id)
		lines = append(lines, strconv.FormatInt(id, 10))
	}

	if err := b.ledger.Rewrite(lines); err != nil {
		return false, fmt.Errorf("не удалось снять бан %d: %w", userID, err)
	}
	b.order = remaining
	delete(b.banned, userID)

	b.logger.Info("Пользователь разблокирован", slog.Int64("user_id", userID))
	return true, nil
}

// IsBanned проверяет, заблокирован ли пользователь.
func (b *BanList) IsBanned(userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.banned[userID]
	return ok
}

// List возвращает заблокированных пользователей в порядке блокировки.
func (b *BanList) List() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]int64, len(b.order))
	copy(result, b.order)
	return result
}

// Count возвращает количество заблокированных пользователей.
func (b *BanList) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.banned)
}

// Close закрывает журнал.
func (b *BanList) Close() error {
	return b.ledger.Close()
}

// add добавляет id в память. Вызывается под блокировкой или при Open.
func (b *BanList) add(id int64) {
	if _, ok := b.banned[id]; ok {
		return
	}
	b.banned[id] = struct{}{}
	b.order = append(b.order, id)
}
