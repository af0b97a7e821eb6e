package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDephealthService_ValidURL(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer mockServer.Close()

	ds, err := NewDephealthServiceWithRegisterer(DephealthConfig{
		ServiceID:     "relay-bot-test-01",
		Group:         "relay-bot",
		TelegramURL:   mockServer.URL,
		CheckInterval: 5 * time.Second,
	}, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}
	if ds == nil {
		t.Fatal("DephealthService nil")
	}
}

func TestDephealthService_StartStop(t *testing.T) {
	tgServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer tgServer.Close()

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer jwksServer.Close()

	ds, err := NewDephealthServiceWithRegisterer(DephealthConfig{
		ServiceID:     "relay-bot-test-02",
		Group:         "relay-bot",
		TelegramURL:   tgServer.URL,
		JWKSURL:       jwksServer.URL,
		CheckInterval: time.Second,
	}, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}

	// Интервал 1s + запас на первую проверку
	time.Sleep(3 * time.Second)

	health := ds.Health()
	var tgFound, jwksFound bool
	for key, ok := range health {
		switch {
		case strings.HasPrefix(key, "telegram-api:"):
			tgFound = true
			if !ok {
				t.Errorf("telegram-api health = false для ключа %q", key)
			}
		case strings.HasPrefix(key, "admin-jwks:"):
			jwksFound = true
			if ok {
				t.Errorf("admin-jwks health = true для ключа %q, ожидалось false (сервер 500)", key)
			}
		}
	}
	if !tgFound || !jwksFound {
		t.Errorf("Нет записей зависимостей в Health(), keys=%v", healthKeys(health))
	}

	ds.Stop()
}

// healthKeys возвращает ключи карты health для сообщений об ошибках.
func healthKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
