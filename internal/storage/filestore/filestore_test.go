package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNew_CreatesDirectory проверяет создание директории spool.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")

	fs, err := New(dir, 1024)
	if err != nil {
		t.Fatalf("ожидалось успешное создание, получена ошибка: %v", err)
	}
	if fs.Dir() != dir || fs.MaxSize() != 1024 {
		t.Errorf("неверные параметры: dir=%s max=%d", fs.Dir(), fs.MaxSize())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
}

// TestNew_InvalidMaxSize проверяет отказ при неположительном лимите.
func TestNew_InvalidMaxSize(t *testing.T) {
	if _, err := New(t.TempDir(), 0); err == nil {
		t.Error("ожидалась ошибка для нулевого лимита")
	}
}

// TestSaveFile проверяет запись, размер и checksum.
func TestSaveFile(t *testing.T) {
	fs, _ := New(t.TempDir(), 1024)
	content := []byte("hello relay")

	result, err := fs.SaveFile(bytes.NewReader(content), "report.pdf", 42)
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	if result.Size != int64(len(content)) {
		t.Errorf("ожидался размер %d, получен %d", len(content), result.Size)
	}
	sum := sha256.Sum256(content)
	if result.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("неверный checksum: %s", result.Checksum)
	}
	if !strings.HasSuffix(result.FullPath, ".pdf") || !strings.Contains(filepath.Base(result.FullPath), "_42_") {
		t.Errorf("неожиданное имя файла: %s", result.FullPath)
	}

	data, err := os.ReadFile(result.FullPath)
	if err != nil || !bytes.Equal(data, content) {
		t.Errorf("содержимое файла не совпадает: %v", err)
	}
}

// TestSaveFile_ExactLimit проверяет, что файл ровно на лимите принимается.
func TestSaveFile_ExactLimit(t *testing.T) {
	fs, _ := New(t.TempDir(), 100)

	result, err := fs.SaveFile(bytes.NewReader(make([]byte, 100)), "a.bin", 1)
	if err != nil {
		t.Fatalf("файл размером ровно в лимит должен быть принят: %v", err)
	}
	if result.Size != 100 {
		t.Errorf("ожидался размер 100, получен %d", result.Size)
	}
}

// countingReader отдаёт бесконечный поток и считает отданные байты.
type countingReader struct {
	served int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	c.served += int64(len(p))
	return len(p), nil
}

// TestSaveFile_TooLarge проверяет прерывание потока при превышении лимита
// и отсутствие частичного файла.
func TestSaveFile_TooLarge(t *testing.T) {
	dir := t.TempDir()
	const limit = 10 * 1024
	fs, _ := New(dir, limit)

	src := &countingReader{}
	_, err := fs.SaveFile(src, "big.zip", 1)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидалась ErrTooLarge, получена: %v", err)
	}

	// Поток прерван вскоре после лимита, а не вычитан целиком
	if src.served > limit+64*1024 {
		t.Errorf("прочитано слишком много: %d байт", src.served)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("в spool не должно остаться файлов, найдено %d", len(entries))
	}
}

// failingReader возвращает ошибку после первой порции.
type failingReader struct{ done bool }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.done {
		return 0, io.ErrUnexpectedEOF
	}
	f.done = true
	return copy(p, "partial"), nil
}

// TestSaveFile_ReaderError проверяет удаление temp файла при ошибке источника.
func TestSaveFile_ReaderError(t *testing.T) {
	dir := t.TempDir()
	fs, _ := New(dir, 1024)

	if _, err := fs.SaveFile(&failingReader{}, "x.pdf", 1); err == nil {
		t.Fatal("ожидалась ошибка чтения")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("частичный файл не удалён: %d файлов", len(entries))
	}
}

// TestDeleteFile проверяет удаление и идемпотентность.
func TestDeleteFile(t *testing.T) {
	fs, _ := New(t.TempDir(), 1024)
	result, _ := fs.SaveFile(strings.NewReader("data"), "d.txt", 1)

	if err := fs.DeleteFile(result.FullPath); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := os.Stat(result.FullPath); !os.IsNotExist(err) {
		t.Error("файл должен быть удалён")
	}
	if err := fs.DeleteFile(result.FullPath); err != nil {
		t.Errorf("повторное удаление не должно возвращать ошибку: %v", err)
	}
}

// TestCleanStale проверяет удаление старых файлов spool.
func TestCleanStale(t *testing.T) {
	dir := t.TempDir()
	fs, _ := New(dir, 1024)

	old := filepath.Join(dir, "old.pdf.tmp")
	fresh := filepath.Join(dir, "fresh.pdf")
	_ = os.WriteFile(old, []byte("x"), 0o640)
	_ = os.WriteFile(fresh, []byte("y"), 0o640)
	past := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(old, past, past)

	removed, err := fs.CleanStale(time.Hour)
	if err != nil {
		t.Fatalf("CleanStale: %v", err)
	}
	if removed != 1 {
		t.Errorf("ожидалось удаление 1 файла, удалено %d", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("свежий файл не должен удаляться")
	}
}

// TestSanitize проверяет очистку имени файла.
func TestSanitize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"report", "report"},
		{"my file (1)", "myfile1"},
		{"../../etc/passwd", "etcpasswd"},
		{"отчёт", "отчёт"},
		{"!!!", "file"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.input); got != tt.want {
			t.Errorf("sanitize(%q) = %q, ожидалось %q", tt.input, got, tt.want)
		}
	}
}
