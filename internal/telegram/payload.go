package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
)

// ErrRelayNotFound — сообщение relay-канала удалено или не существует.
var ErrRelayNotFound = model.ErrRelayNotFound

// BuildChattable строит запрос Bot API для payload. Поддерживаются все
// виды, кроме PayloadCopy (он отправляется через copyMessage).
func BuildChattable(chatID int64, p model.Payload) (tgbotapi.Chattable, error) {
	file := tgbotapi.FileID(p.FileID)

	switch p.Kind {
	case model.PayloadText:
		msg := tgbotapi.NewMessage(chatID, p.Text)
		msg.DisableWebPagePreview = true
		return msg, nil
	case model.PayloadPhoto:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.Caption = p.Caption
		return cfg, nil
	case model.PayloadVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.Caption = p.Caption
		return cfg, nil
	case model.PayloadDocument:
		cfg := tgbotapi.NewDocument(chatID, file)
		cfg.Caption = p.Caption
		return cfg, nil
	case model.PayloadAudio:
		cfg := tgbotapi.NewAudio(chatID, file)
		cfg.Caption = p.Caption
		return cfg, nil
	case model.PayloadVoice:
		cfg := tgbotapi.NewVoice(chatID, file)
		cfg.Caption = p.Caption
		return cfg, nil
	case model.PayloadVideoNote:
		// Кружок не поддерживает подпись
		return tgbotapi.NewVideoNote(chatID, 0, file), nil
	default:
		return nil, fmt.Errorf("неподдерживаемый тип payload %q", p.Kind)
	}
}

// PayloadFromMessage извлекает payload рассылки из сообщения.
// Неизвестное содержимое (стикер, опрос, геопозиция) рассылается копией.
func PayloadFromMessage(msg *tgbotapi.Message) model.Payload {
	p := model.Payload{
		Text:            msg.Text,
		Caption:         msg.Caption,
		SourceChatID:    msg.Chat.ID,
		SourceMessageID: msg.MessageID,
	}

	switch {
	case msg.Text != "":
		p.Kind = model.PayloadText
	case len(msg.Photo) > 0:
		// Последний размер — наибольший
		p.Kind = model.PayloadPhoto
		p.FileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		p.Kind = model.PayloadVideo
		p.FileID = msg.Video.FileID
	case msg.Document != nil:
		p.Kind = model.PayloadDocument
		p.FileID = msg.Document.FileID
	case msg.Audio != nil:
		p.Kind = model.PayloadAudio
		p.FileID = msg.Audio.FileID
	case msg.Voice != nil:
		p.Kind = model.PayloadVoice
		p.FileID = msg.Voice.FileID
	case msg.VideoNote != nil:
		p.Kind = model.PayloadVideoNote
		p.FileID = msg.VideoNote.FileID
	default:
		p.Kind = model.PayloadCopy
	}
	return p
}

// Attachment — описание файла во входящем сообщении.
type Attachment struct {
	// Kind — тип содержимого для ответа пользователю
	Kind string
	// Label — имя файла или тип содержимого
	Label string
	Size  int64
}

// AttachmentOf возвращает вложение сообщения. false — файла нет.
func AttachmentOf(msg *tgbotapi.Message) (Attachment, bool) {
	switch {
	case msg.Document != nil:
		label := msg.Document.FileName
		if label == "" {
			label = "Document"
		}
		return Attachment{Kind: "Document", Label: label, Size: int64(msg.Document.FileSize)}, true
	case msg.Video != nil:
		label := msg.Video.FileName
		if label == "" {
			label = "Video"
		}
		return Attachment{Kind: "Video", Label: label, Size: int64(msg.Video.FileSize)}, true
	case msg.Audio != nil:
		label := msg.Audio.FileName
		if label == "" {
			label = "Audio"
		}
		return Attachment{Kind: "Audio", Label: label, Size: int64(msg.Audio.FileSize)}, true
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return Attachment{Kind: "Photo", Label: "Photo", Size: int64(largest.FileSize)}, true
	case msg.Voice != nil:
		return Attachment{Kind: "Voice", Label: "Voice", Size: int64(msg.Voice.FileSize)}, true
	case msg.VideoNote != nil:
		return Attachment{Kind: "Video Note", Label: "Video Note", Size: int64(msg.VideoNote.FileSize)}, true
	default:
		return Attachment{}, false
	}
}
