// election.go — выбор leader через flock() на директории данных.
//
// Алгоритм:
//  1. Попытка захватить эксклюзивную блокировку {dataDir}/.leader.lock
//  2. Получена — роль leader, идентификатор экземпляра пишется в .leader.info
//  3. Нет — роль standby, попытка повторяется каждые retryInterval
package replica

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	leaderLockFile = ".leader.lock"
	leaderInfoFile = ".leader.info"
)

var instanceLeader = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "rb_instance_leader",
	Help: "1, если экземпляр владеет директорией данных",
})

// Election — блокировка директории данных.
type Election struct {
	dataDir       string
	instanceID    string
	retryInterval time.Duration
	logger        *slog.Logger

	mu       sync.RWMutex
	role     Role
	lockFile *os.File
}

// NewElection создаёт election для директории данных.
// instanceID — идентификатор экземпляра для .leader.info (пустой — hostname:pid).
func NewElection(dataDir, instanceID string, retryInterval time.Duration, logger *slog.Logger) *Election {
	if instanceID == "" {
		instanceID = defaultInstanceID()
	}
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}
	return &Election{
		dataDir:       dataDir,
		instanceID:    instanceID,
		retryInterval: retryInterval,
		logger:        logger.With(slog.String("component", "election")),
		role:          RoleStandby,
	}
}

// Acquire блокируется до получения роли leader или отмены ctx.
func (e *Election) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(e.dataDir, 0o750); err != nil {
		return fmt.Errorf("создание директории данных: %w", err)
	}

	acquired, err := e.tryAcquireLock()
	if err != nil {
		return err
	}
	if acquired {
		e.becomeLeader()
		return nil
	}

	e.logger.Info("Роль: STANDBY, директория данных занята",
		slog.String("leader", e.Holder()),
		slog.String("retry_interval", e.retryInterval.String()),
	)

	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			acquired, err := e.tryAcquireLock()
			if err != nil {
				e.logger.Warn("Ошибка повторного захвата lock",
					slog.String("error", err.Error()),
				)
				continue
			}
			if acquired {
				e.becomeLeader()
				return nil
			}
		}
	}
}

// Release освобождает блокировку. Повторный вызов безопасен.
func (e *Election) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lockFile == nil {
		return
	}
	_ = syscall.Flock(int(e.lockFile.Fd()), syscall.LOCK_UN)
	_ = e.lockFile.Close()
	e.lockFile = nil
	e.role = RoleStandby
	instanceLeader.Set(0)
	e.logger.Info("Lock освобождён")
}

// CurrentRole возвращает текущую роль экземпляра.
func (e *Election) CurrentRole() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// IsLeader возвращает true, если экземпляр владеет директорией данных.
func (e *Election) IsLeader() bool {
	return e.CurrentRole() == RoleLeader
}

// Holder возвращает идентификатор текущего leader из .leader.info.
// Пустая строка, если файл отсутствует.
func (e *Election) Holder() string {
	data, err := os.ReadFile(filepath.Join(e.dataDir, leaderInfoFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// tryAcquireLock — неблокирующая попытка захватить flock.
func (e *Election) tryAcquireLock() (bool, error) {
	lockPath := filepath.Join(e.dataDir, leaderLockFile)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return false, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return false, nil
	}

	e.mu.Lock()
	e.lockFile = f
	e.mu.Unlock()
	return true, nil
}

func (e *Election) becomeLeader() {
	e.mu.Lock()
	e.role = RoleLeader
	e.mu.Unlock()
	instanceLeader.Set(1)

	if err := e.writeLeaderInfo(); err != nil {
		e.logger.Error("Ошибка записи .leader.info",
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("Роль: LEADER", slog.String("instance", e.instanceID))
}

// writeLeaderInfo атомарно записывает идентификатор экземпляра в .leader.info.
func (e *Election) writeLeaderInfo() error {
	infoPath := filepath.Join(e.dataDir, leaderInfoFile)
	tmpPath := infoPath + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(e.instanceID), 0o640); err != nil {
		return fmt.Errorf("ошибка записи temp .leader.info: %w", err)
	}
	if err := os.Rename(tmpPath, infoPath); err != nil {
		return fmt.Errorf("ошибка переименования .leader.info: %w", err)
	}
	return nil
}

func defaultInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return fmt.Sprintf("%s:%d", hostname, os.Getpid())
}
