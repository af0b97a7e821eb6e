// Пакет ledger — построчный append-only журнал на диске.
//
// Каждая запись — одна строка, завершённая '\n'. Файл служит
// write-ahead log для in-memory структур: при старте журнал
// проигрывается (Replay), каждая запись дописывается с fsync (Append),
// а удаление выполняется полной атомарной перезаписью (Rewrite):
// temp файл → fsync → rename.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxLineSize — максимальная длина строки при чтении журнала.
const maxLineSize = 1 << 20

// Ledger — построчный журнал. Потокобезопасен.
type Ledger struct {
	path   string
	mu     sync.Mutex
	f      *os.File
	logger *slog.Logger
}

// Open открывает (или создаёт) журнал по указанному пути.
// Если файл оборван на середине строки (сбой во время записи),
// дописывает перевод строки, чтобы следующая запись не склеилась с обрывком.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть журнал %s: %w", path, err)
	}

	l := &Ledger{
		path:   path,
		f:      f,
		logger: logger.With(slog.String("component", "ledger"), slog.String("path", path)),
	}

	if err := l.repairTail(); err != nil {
		f.Close()
		return nil, err
	}

	return l, nil
}

// repairTail проверяет последний байт файла.
func (l *Ledger) repairTail() error {
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("ошибка stat журнала: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := l.f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("ошибка чтения хвоста журнала: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}

	l.logger.Warn("Журнал оборван на середине строки, добавлен перевод строки")
	if _, err := l.f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("ошибка восстановления хвоста журнала: %w", err)
	}
	return l.f.Sync()
}

// Path возвращает путь к файлу журнала.
func (l *Ledger) Path() string {
	return l.path
}

// Replay читает журнал с начала и вызывает fn для каждой непустой строки.
// Ошибка fn прерывает чтение. Возвращает количество прочитанных строк.
func (l *Ledger) Replay(fn func(line string) error) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := os.Open(l.path)
	if err != nil {
		return 0, fmt.Errorf("не удалось открыть журнал для чтения: %w", err)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	n := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(line); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("ошибка чтения журнала: %w", err)
	}

	return n, nil
}

// Append дописывает строку в конец журнала и выполняет fsync.
// Строка не должна содержать перевод строки.
func (l *Ledger) Append(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("строка журнала содержит перевод строки")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return errClosed
	}
	if _, err := io.WriteString(l.f, line+"\n"); err != nil {
		return fmt.Errorf("ошибка записи в журнал: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("ошибка fsync журнала: %w", err)
	}
	return nil
}

// Rewrite атомарно заменяет содержимое журнала указанными строками.
func (l *Ledger) Rewrite(lines []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return errClosed
	}

	tmpPath := l.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("ошибка записи: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	// Старый дескриптор указывает на удалённый inode
	l.f.Close()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		l.f = nil
		return fmt.Errorf("не удалось переоткрыть журнал: %w", err)
	}
	l.f = f

	l.logger.Debug("Журнал перезаписан", slog.Int("lines", len(lines)))
	return nil
}

// Close закрывает журнал.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

var errClosed = errors.New("журнал закрыт")
