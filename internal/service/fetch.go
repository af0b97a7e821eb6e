// fetch.go — скачивание файла по прямой ссылке во временный spool.
//
// Ссылка валидна, если схема http/https и путь оканчивается
// разрешённым расширением. Размер ограничивается дважды: заранее по
// Content-Length и инкрементально при потоковой записи в spool.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/relay-bot/internal/storage/filestore"
)

// DefaultAllowedExtensions — расширения, разрешённые по умолчанию.
var DefaultAllowedExtensions = []string{
	".pdf", ".zip", ".rar", ".7z", ".jpg", ".jpeg", ".png", ".gif",
	".mp4", ".mkv", ".mov", ".mp3", ".ogg", ".wav", ".apk",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".epub",
}

// Fetcher скачивает файлы по ссылке.
type Fetcher struct {
	client  *http.Client
	spool   *filestore.FileStore
	allowed map[string]bool
	logger  *slog.Logger
}

// NewFetcher создаёт загрузчик. timeout ограничивает всю передачу,
// включая чтение тела ответа.
func NewFetcher(spool *filestore.FileStore, allowedExt []string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	allowed := make(map[string]bool, len(allowedExt))
	for _, ext := range allowedExt {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          10,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
		spool:   spool,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "fetcher")),
	}
}

// IsURL сообщает, похож ли текст на ссылку для загрузки.
func IsURL(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://")
}

// Validate проверяет ссылку и возвращает имя файла из пути.
func (f *Fetcher) Validate(raw string) (*url.URL, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("%w: схема %q", ErrUnsupportedURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, "", fmt.Errorf("%w: пустой хост", ErrUnsupportedURL)
	}

	name := path.Base(u.Path)
	ext := strings.ToLower(path.Ext(name))
	if ext == "" || !f.allowed[ext] {
		return nil, "", fmt.Errorf("%w: расширение %q не разрешено", ErrUnsupportedURL, ext)
	}
	return u, name, nil
}

// Fetch скачивает файл в spool. Любая ошибка оборачивает ErrDownloadFailed.
// Вызывающий обязан удалить файл через spool после использования.
func (f *Fetcher) Fetch(ctx context.Context, raw string, uploaderID int64) (*filestore.SaveResult, error) {
	u, name, err := f.Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}
	if resp.ContentLength > f.spool.MaxSize() {
		return nil, fmt.Errorf("%w: %w (Content-Length %d)", ErrDownloadFailed, filestore.ErrTooLarge, resp.ContentLength)
	}

	result, err := f.spool.SaveFile(resp.Body, name, uploaderID)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			f.logger.Warn("Скачивание прервано: превышен лимит размера",
				slog.String("host", u.Host),
				slog.Int64("max_size", f.spool.MaxSize()),
			)
			return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	f.logger.Debug("Файл скачан",
		slog.String("host", u.Host),
		slog.String("name", name),
		slog.Int64("size", result.Size),
		slog.String("checksum", result.Checksum),
	)
	return result, nil
}
