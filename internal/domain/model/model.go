// Пакет model — доменные модели relay-bot.
package model

import (
	"strings"
	"time"
)

// PayloadKind — тип содержимого сообщения для рассылки.
type PayloadKind string

const (
	PayloadText      PayloadKind = "text"
	PayloadPhoto     PayloadKind = "photo"
	PayloadVideo     PayloadKind = "video"
	PayloadDocument  PayloadKind = "document"
	PayloadAudio     PayloadKind = "audio"
	PayloadVoice     PayloadKind = "voice"
	PayloadVideoNote PayloadKind = "video_note"
	// PayloadCopy — копия произвольного сообщения (copyMessage)
	PayloadCopy PayloadKind = "copy"
)

// Payload — содержимое рассылки.
type Payload struct {
	Kind PayloadKind `json:"kind"`
	// FileID — идентификатор файла на стороне платформы (для медиа)
	FileID string `json:"file_id,omitempty"`
	// Text — текст для PayloadText
	Text string `json:"text,omitempty"`
	// Caption — подпись к медиа
	Caption string `json:"caption,omitempty"`
	// SourceChatID, SourceMessageID — исходное сообщение для PayloadCopy
	SourceChatID    int64 `json:"source_chat_id,omitempty"`
	SourceMessageID int   `json:"source_message_id,omitempty"`
}

// FallbackText возвращает текст, которым заменяется нераспознанный payload:
// подпись или текст. Пустая строка — отправлять нечего.
func (p Payload) FallbackText() string {
	if t := strings.TrimSpace(p.Caption); t != "" {
		return p.Caption
	}
	if t := strings.TrimSpace(p.Text); t != "" {
		return p.Text
	}
	return ""
}

// Resolve нормализует payload перед отправкой. Распознанный тип с
// содержимым возвращается как есть; иначе payload деградирует до
// текста из подписи или текста. ok=false — отправлять нечего.
func (p Payload) Resolve() (Payload, bool) {
	switch p.Kind {
	case PayloadText:
		if strings.TrimSpace(p.Text) != "" {
			return p, true
		}
	case PayloadPhoto, PayloadVideo, PayloadDocument, PayloadAudio, PayloadVoice, PayloadVideoNote:
		if p.FileID != "" {
			return p, true
		}
	case PayloadCopy:
		if p.SourceChatID != 0 && p.SourceMessageID > 0 {
			return p, true
		}
	}

	if text := p.FallbackText(); text != "" {
		return Payload{Kind: PayloadText, Text: text}, true
	}
	return Payload{}, false
}

// HistoryRecord — запись истории загрузок пользователя.
type HistoryRecord struct {
	UserID int64  `json:"user_id"`
	Label  string `json:"label"`
	Link   string `json:"link"`
}

// BroadcastOutcome — итог одного запуска рассылки.
// Attempted = Succeeded + Failed + Skipped.
type BroadcastOutcome struct {
	RunID      string     `json:"run_id"`
	Attempted  int        `json:"attempted"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Total      int        `json:"total"`
	Cancelled  bool       `json:"cancelled"`
	Running    bool       `json:"running"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// UploadResult — результат успешной загрузки.
type UploadResult struct {
	Token string `json:"token"`
	Link  string `json:"link"`
	Label string `json:"label"`
	// Size — размер в байтах, 0 если неизвестен
	Size int64  `json:"size"`
	Kind string `json:"kind"`
	// HistoryRecorded — false, если запись истории не удалась
	HistoryRecorded bool `json:"history_recorded"`
}
