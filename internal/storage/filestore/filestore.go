// Пакет filestore — временное хранилище (spool) для файлов,
// скачанных по ссылке перед отправкой в relay-канал.
//
// Запись потоковая, с подсчётом SHA-256 и размера на лету.
// Ограничение размера проверяется инкрементально: как только
// накопленный объём превышает лимит, запись прерывается и
// частичный файл удаляется. Файлы spool живут только до отправки.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge — поток превысил максимальный размер.
var ErrTooLarge = errors.New("превышен максимальный размер файла")

// FileStore — директория spool.
type FileStore struct {
	dir     string
	maxSize int64
}

// SaveResult — результат сохранения файла в spool.
type SaveResult struct {
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Name — исходное имя файла (для отправки в relay-канал)
	Name string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт spool в dir с лимитом maxSize байт (> 0).
func New(dir string, maxSize int64) (*FileStore, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("максимальный размер должен быть положительным: %d", maxSize)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию spool %s: %w", dir, err)
	}
	return &FileStore{dir: dir, maxSize: maxSize}, nil
}

// MaxSize возвращает лимит размера файла.
func (fs *FileStore) MaxSize() int64 {
	return fs.maxSize
}

// Dir возвращает путь к директории spool.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// SaveFile записывает поток в spool.
// Паттерн: temp файл → запись + SHA-256 → fsync → rename.
// При любой ошибке, включая ErrTooLarge, temp файл удаляется.
func (fs *FileStore) SaveFile(reader io.Reader, originalFilename string, uploaderID int64) (*SaveResult, error) {
	fullPath := filepath.Join(fs.dir, generateStorageName(originalFilename, uploaderID))
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	limited := &limitedReader{r: reader, remaining: fs.maxSize}
	tee := io.TeeReader(limited, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("%w: лимит %d байт", ErrTooLarge, fs.maxSize)
		}
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		FullPath: fullPath,
		Name:     originalFilename,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// DeleteFile удаляет файл spool. Отсутствующий файл — не ошибка.
func (fs *FileStore) DeleteFile(fullPath string) error {
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", fullPath, err)
	}
	return nil
}

// CleanStale удаляет файлы spool старше maxAge: оставшиеся после
// сбоя отправки или падения процесса. Возвращает количество удалённых.
func (fs *FileStore) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории spool: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// limitedReader возвращает ErrTooLarge, как только прочитано
// больше remaining байт. В отличие от io.LimitReader не усекает
// поток молча.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	return n, err
}

// generateStorageName: {name}_{uploader}_{timestamp}_{uuid}.{ext}
func generateStorageName(originalFilename string, uploaderID int64) string {
	ext := filepath.Ext(originalFilename)
	name := sanitize(strings.TrimSuffix(originalFilename, ext))
	if len(name) > 50 {
		name = name[:50]
	}
	ext = sanitizeExt(ext)

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%d_%s_%s%s", name, uploaderID, ts, uid, ext)
}

// sanitize оставляет буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	clean := sanitize(strings.TrimPrefix(ext, "."))
	if clean == "file" && !strings.EqualFold(ext, ".file") {
		return ""
	}
	return "." + clean
}
