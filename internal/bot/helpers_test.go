package bot

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/relay-bot/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type sentMessage struct {
	chatID int64
	text   string
}

// fakeMessenger запоминает отправленные ответы.
type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (m *fakeMessenger) last() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMessage{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakeRelay — оркестратор с заданными ответами.
type fakeRelay struct {
	mu sync.Mutex

	uploadReqs []service.UploadRequest
	urls       []string
	retrieved  []string

	uploadErr   error
	retrieveErr error
	history     []model.HistoryRecord
	uploads     int64
}

func (r *fakeRelay) Upload(_ context.Context, req service.UploadRequest) (*model.UploadResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploadReqs = append(r.uploadReqs, req)
	if r.uploadErr != nil {
		return nil, r.uploadErr
	}
	r.uploads++
	return &model.UploadResult{
		Token: "1700000000_1_101",
		Link:  "https://t.me/test_bot?start=1700000000_1_101",
		Label: req.Label,
		Size:  req.Size,
		Kind:  req.Kind,
	}, nil
}

func (r *fakeRelay) UploadURL(_ context.Context, _ int64, rawURL string) (*model.UploadResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, rawURL)
	if r.uploadErr != nil {
		return nil, r.uploadErr
	}
	return &model.UploadResult{Token: "t", Link: "l", Label: "a.pdf", Kind: "Document"}, nil
}

func (r *fakeRelay) Retrieve(_ context.Context, _, _ int64, rawToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrieved = append(r.retrieved, rawToken)
	return r.retrieveErr
}

func (r *fakeRelay) Recent(userID int64, _ int) []model.HistoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.HistoryRecord
	for _, rec := range r.history {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

func (r *fakeRelay) SessionUploads() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uploads
}

// fakeRegistry — реестр в памяти.
type fakeRegistry struct {
	mu  sync.Mutex
	ids []int64
}

func (r *fakeRegistry) Record(id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.ids {
		if existing == id {
			return false, nil
		}
	}
	r.ids = append(r.ids, id)
	return true, nil
}

func (r *fakeRegistry) All() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *fakeRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// fakeBans — список банов в памяти.
type fakeBans struct {
	mu     sync.Mutex
	banned map[int64]bool
}

func (b *fakeBans) Ban(id int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.banned[id] {
		return false, nil
	}
	b.banned[id] = true
	return true, nil
}

func (b *fakeBans) Unban(id int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.banned[id] {
		return false, nil
	}
	delete(b.banned, id)
	return true, nil
}

// fakeBroadcaster выполняет рассылку синхронно.
type fakeBroadcaster struct {
	payloads   []model.Payload
	recipients [][]int64
}

func (b *fakeBroadcaster) Start(_ context.Context, p model.Payload, recipients []int64, onDone func(model.BroadcastOutcome)) string {
	b.payloads = append(b.payloads, p)
	b.recipients = append(b.recipients, recipients)
	if onDone != nil {
		onDone(model.BroadcastOutcome{RunID: "run-1", Attempted: len(recipients), Succeeded: len(recipients)})
	}
	return "run-1"
}

type testEnv struct {
	handler     *Handler
	messenger   *fakeMessenger
	relay       *fakeRelay
	registry    *fakeRegistry
	bans        *fakeBans
	broadcaster *fakeBroadcaster
}

const testAdminID = 1000

func newTestEnv() *testEnv {
	env := &testEnv{
		messenger:   &fakeMessenger{},
		relay:       &fakeRelay{},
		registry:    &fakeRegistry{},
		bans:        &fakeBans{banned: make(map[int64]bool)},
		broadcaster: &fakeBroadcaster{},
	}
	env.handler = NewHandler(HandlerDeps{
		Messenger:   env.messenger,
		Relay:       env.relay,
		Registry:    env.registry,
		Bans:        env.bans,
		Broadcaster: env.broadcaster,
	}, HandlerConfig{
		AdminIDs:          []int64{testAdminID},
		LinkBase:          "https://t.me/test_bot",
		HistoryLimit:      5,
		AllowedExtensions: []string{".pdf", ".zip"},
	}, testLogger())
	return env
}

func textMessage(from int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, FirstName: "Ann"},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
	}
}

func commandMessage(from int64, text string) *tgbotapi.Message {
	msg := textMessage(from, text)
	cmd := strings.SplitN(text, " ", 2)[0]
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return msg
}

func update(id int, msg *tgbotapi.Message) tgbotapi.Update {
	return tgbotapi.Update{UpdateID: id, Message: msg}
}
