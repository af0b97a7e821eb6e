// Пакет wal — журнал незавершённых загрузок.
//
// Между записью в relay-канал и добавлением в историю есть окно,
// в котором процесс может упасть. Загрузка открывает транзакцию
// после выпуска токена и коммитит её после записи истории;
// при старте pending-транзакции дописываются в историю.
// Каждая транзакция — отдельный файл {tx_id}.wal.json.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpFileUpload — загрузка файла, отправленного пользователем
	OpFileUpload OperationType = "file_upload"
	// OpURLUpload — загрузка файла по ссылке
	OpURLUpload OperationType = "url_upload"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала загрузки.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	// UserID, Label, Link — запись истории, которую нужно сохранить
	UserID int64  `json:"user_id"`
	Label  string `json:"label"`
	Link   string `json:"link"`

	// RelayMessageID — сообщение в relay-канале (для диагностики)
	RelayMessageID int `json:"relay_message_id"`

	StartedAt time.Time `json:"started_at"`
	// CompletedAt — nil для pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func walFileName(txID string) string {
	return txID + ".wal.json"
}
