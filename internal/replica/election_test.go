package replica

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestElection_SingleInstance — единственный экземпляр сразу становится leader.
func TestElection_SingleInstance(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	e := NewElection(dir, "bot-0", time.Second, testLogger())

	if err := e.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer e.Release()

	if !e.IsLeader() || e.CurrentRole() != RoleLeader {
		t.Errorf("ожидалась роль leader, получена %s", e.CurrentRole())
	}
	if e.Holder() != "bot-0" {
		t.Errorf(".leader.info = %q, ожидалось bot-0", e.Holder())
	}
}

// TestElection_StandbyWaitsForContext — второй экземпляр ждёт, пока lock занят.
func TestElection_StandbyWaitsForContext(t *testing.T) {
	dir := t.TempDir()
	leader := NewElection(dir, "bot-0", time.Second, testLogger())
	if err := leader.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire leader: %v", err)
	}
	defer leader.Release()

	standby := NewElection(dir, "bot-1", 10*time.Millisecond, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := standby.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидалась DeadlineExceeded, получено %v", err)
	}
	if standby.IsLeader() {
		t.Error("standby не должен стать leader")
	}
	if standby.Holder() != "bot-0" {
		t.Errorf("Holder() = %q, ожидалось bot-0", standby.Holder())
	}
}

// TestElection_StandbyTakesOver — после Release standby становится leader.
func TestElection_StandbyTakesOver(t *testing.T) {
	dir := t.TempDir()
	leader := NewElection(dir, "bot-0", time.Second, testLogger())
	if err := leader.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire leader: %v", err)
	}

	standby := NewElection(dir, "bot-1", 10*time.Millisecond, testLogger())
	done := make(chan error, 1)
	go func() { done <- standby.Acquire(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	leader.Release()
	leader.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire standby: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("standby не стал leader за 5 секунд")
	}
	defer standby.Release()

	if !standby.IsLeader() || leader.IsLeader() {
		t.Errorf("роли: standby=%s leader=%s", standby.CurrentRole(), leader.CurrentRole())
	}
	if standby.Holder() != "bot-1" {
		t.Errorf(".leader.info = %q, ожидалось bot-1", standby.Holder())
	}
}
