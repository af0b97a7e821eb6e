package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func openRegistry(t *testing.T, path string) *Registry {
	t.Helper()
	r, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// TestRecord_Idempotent проверяет, что повторная регистрация не создаёт дубликат.
func TestRecord_Idempotent(t *testing.T) {
	r := openRegistry(t, filepath.Join(t.TempDir(), "users.log"))

	added, err := r.Record(42)
	if err != nil || !added {
		t.Fatalf("первый Record: added=%v, err=%v", added, err)
	}
	added, err = r.Record(42)
	if err != nil || added {
		t.Fatalf("повторный Record: added=%v, err=%v", added, err)
	}

	if r.Count() != 1 {
		t.Errorf("ожидался 1 пользователь, получено %d", r.Count())
	}
	if all := r.All(); len(all) != 1 || all[0] != 42 {
		t.Errorf("ожидалось [42], получено %v", all)
	}
}

// TestAll_OrderAndSnapshot проверяет порядок первого появления и неизменность снимка.
func TestAll_OrderAndSnapshot(t *testing.T) {
	r := openRegistry(t, filepath.Join(t.TempDir(), "users.log"))

	for _, id := range []int64{3, 1, 2, 1, 3} {
		if _, err := r.Record(id); err != nil {
			t.Fatalf("Record(%d): %v", id, err)
		}
	}

	snapshot := r.All()
	_, _ = r.Record(99)

	want := []int64{3, 1, 2}
	if len(snapshot) != len(want) {
		t.Fatalf("ожидалось %v, получено %v", want, snapshot)
	}
	for i := range want {
		if snapshot[i] != want[i] {
			t.Errorf("позиция %d: ожидалось %d, получено %d", i, want[i], snapshot[i])
		}
	}
}

// TestOpen_Replay проверяет восстановление реестра из журнала с дубликатами и мусором.
func TestOpen_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.log")
	if err := os.WriteFile(path, []byte("10\n20\n10\nnot-a-number\n30\n"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := openRegistry(t, path)
	if r.Count() != 3 {
		t.Errorf("ожидалось 3 пользователя, получено %d", r.Count())
	}
	if !r.Contains(20) {
		t.Error("пользователь 20 должен быть в реестре")
	}
}

// TestRecord_Persisted проверяет сохранение между перезапусками.
func TestRecord_Persisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.log")

	r, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _ = r.Record(1)
	_, _ = r.Record(2)
	r.Close()

	r2 := openRegistry(t, path)
	if r2.Count() != 2 {
		t.Errorf("после перезапуска ожидалось 2 пользователя, получено %d", r2.Count())
	}
}

// TestRecord_Concurrent проверяет отсутствие дубликатов при конкурентной записи.
func TestRecord_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.log")
	r := openRegistry(t, path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for id := int64(1); id <= 10; id++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, _ = r.Record(id)
			}(id)
		}
	}
	wg.Wait()

	if r.Count() != 10 {
		t.Errorf("ожидалось 10 пользователей, получено %d", r.Count())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 10 {
		t.Errorf("ожидалось 10 строк в журнале, получено %d", lines)
	}
}
