// Пакет history — журнал истории загрузок.
//
// Формат строки: {user_id}|{label}|{link}. Метка очищается от '|'
// и переводов строки, поэтому при разборе достаточно SplitN(line, "|", 3).
// Порядок вставки авторитетен: Recent возвращает суффикс
// подпоследовательности пользователя, а не сортировку по времени.
package history

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/relay-bot/internal/storage/ledger"
)

// DefaultLimit — количество записей, возвращаемых /history.
const DefaultLimit = 5

const fieldSeparator = "|"

// History — потокобезопасный журнал истории.
type History struct {
	mu      sync.RWMutex
	records []model.HistoryRecord
	byUser  map[int64][]int // user_id → индексы в records
	ledger  *ledger.Ledger
	logger  *slog.Logger
}

// Open открывает журнал истории и восстанавливает индекс.
func Open(path string, logger *slog.Logger) (*History, error) {
	l, err := ledger.Open(path, logger)
	if err != nil {
		return nil, err
	}

	h := &History{
		byUser: make(map[int64][]int),
		ledger: l,
		logger: logger.With(slog.String("component", "history")),
	}

	skipped := 0
	if _, err := l.Replay(func(line string) error {
		rec, err := parseLine(line)
		if err != nil {
			skipped++
			return nil
		}
		h.add(rec)
		return nil
	}); err != nil {
		l.Close()
		return nil, fmt.Errorf("ошибка восстановления истории: %w", err)
	}

	if skipped > 0 {
		h.logger.Warn("Пропущены некорректные строки истории", slog.Int("skipped", skipped))
	}
	h.logger.Info("История загрузок загружена", slog.Int("records", len(h.records)))
	return h, nil
}

// Append добавляет запись. Метка и ссылка очищаются от разделителей.
func (h *History) Append(rec model.HistoryRecord) error {
	rec.Label = SanitizeLabel(rec.Label)
	rec.Link = sanitizeLink(rec.Link)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ledger.Append(formatLine(rec)); err != nil {
		return fmt.Errorf("не удалось записать историю пользователя %d: %w", rec.UserID, err)
	}
	h.add(rec)
	return nil
}

// Recent возвращает не более limit последних записей пользователя,
// от старых к новым. Пустая история — пустой срез, не ошибка.
// limit <= 0 означает DefaultLimit.
func (h *History) Recent(userID int64, limit int) []model.HistoryRecord {
	if limit <= 0 {
		limit = DefaultLimit
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	idx := h.byUser[userID]
	if len(idx) > limit {
		idx = idx[len(idx)-limit:]
	}

	result := make([]model.HistoryRecord, 0, len(idx))
	for _, i := range idx {
		result = append(result, h.records[i])
	}
	return result
}

// Contains проверяет, есть ли у пользователя запись с указанной ссылкой.
func (h *History) Contains(userID int64, link string) bool {
	link = sanitizeLink(link)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, i := range h.byUser[userID] {
		if h.records[i].Link == link {
			return true
		}
	}
	return false
}

// Count возвращает общее количество записей.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Close закрывает журнал.
func (h *History) Close() error {
	return h.ledger.Close()
}

func (h *History) add(rec model.HistoryRecord) {
	h.records = append(h.records, rec)
	h.byUser[rec.UserID] = append(h.byUser[rec.UserID], len(h.records)-1)
}

// SanitizeLabel заменяет разделитель полей и переводы строки.
func SanitizeLabel(label string) string {
	r := strings.NewReplacer(fieldSeparator, "/", "\r", " ", "\n", " ")
	label = strings.TrimSpace(r.Replace(label))
	if label == "" {
		return "file"
	}
	return label
}

func sanitizeLink(link string) string {
	r := strings.NewReplacer(fieldSeparator, "%7C", "\r", "", "\n", "")
	return r.Replace(link)
}

func formatLine(rec model.HistoryRecord) string {
	return strconv.FormatInt(rec.UserID, 10) + fieldSeparator + rec.Label + fieldSeparator + rec.Link
}

func parseLine(line string) (model.HistoryRecord, error) {
	parts := strings.SplitN(line, fieldSeparator, 3)
	if len(parts) != 3 {
		return model.HistoryRecord{}, fmt.Errorf("ожидалось 3 поля, получено %d", len(parts))
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return model.HistoryRecord{}, fmt.Errorf("некорректный user_id %q", parts[0])
	}
	return model.HistoryRecord{UserID: userID, Label: parts[1], Link: parts[2]}, nil
}
