package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeRelay — relay-канал в памяти.
type fakeRelay struct {
	mu       sync.Mutex
	nextID   int
	messages map[int]string
	copies   []copyCall
	uploads  []string

	forwardErr error
	uploadErr  error
}

type copyCall struct {
	toChatID       int64
	relayMessageID int
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{nextID: 100, messages: make(map[int]string)}
}

func (r *fakeRelay) ForwardToRelay(_ context.Context, fromChatID int64, messageID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forwardErr != nil {
		return 0, r.forwardErr
	}
	r.nextID++
	r.messages[r.nextID] = "forward"
	return r.nextID, nil
}

func (r *fakeRelay) UploadToRelay(_ context.Context, path, name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uploadErr != nil {
		return 0, r.uploadErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	r.nextID++
	r.messages[r.nextID] = string(data)
	r.uploads = append(r.uploads, name)
	return r.nextID, nil
}

func (r *fakeRelay) CopyFromRelay(_ context.Context, toChatID int64, relayMessageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[relayMessageID]; !ok {
		return model.ErrRelayNotFound
	}
	r.copies = append(r.copies, copyCall{toChatID: toChatID, relayMessageID: relayMessageID})
	return nil
}

func (r *fakeRelay) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// fakeBans — список банов в памяти.
type fakeBans map[int64]bool

func (b fakeBans) IsBanned(userID int64) bool { return b[userID] }

// fakeHistory — история в памяти с управляемым сбоем записи.
type fakeHistory struct {
	mu        sync.Mutex
	records   []model.HistoryRecord
	appendErr error
}

func (h *fakeHistory) Append(rec model.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return h.appendErr
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHistory) Recent(userID int64, limit int) []model.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]model.HistoryRecord, 0)
	for _, rec := range h.records {
		if rec.UserID == userID {
			result = append(result, rec)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

func (h *fakeHistory) Contains(userID int64, link string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range h.records {
		if rec.UserID == userID && rec.Link == link {
			return true
		}
	}
	return false
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// fakeSender — получатель рассылки; failFor — chat_id, доставка которым падает.
type fakeSender struct {
	mu      sync.Mutex
	failFor map[int64]bool
	sent    []int64
	block   chan struct{}
}

var errDeliveryFailed = errors.New("bot was blocked by the user")

func (s *fakeSender) SendPayload(ctx context.Context, chatID int64, _ model.Payload) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chatID)
	if s.failFor[chatID] {
		return errDeliveryFailed
	}
	return nil
}

func (s *fakeSender) attempts() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.sent))
	copy(out, s.sent)
	return out
}
