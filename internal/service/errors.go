package service

import (
	"errors"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/flow"
	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/relay-bot/internal/domain/token"
)

// Ошибки, завершающие обработку запроса. Каждой соответствует
// свой ответ пользователю.
var (
	ErrBanned         = errors.New("пользователь заблокирован")
	ErrUploadFailed   = errors.New("не удалось сохранить файл в relay-канал")
	ErrDownloadFailed = errors.New("не удалось скачать файл по ссылке")
	// ErrUnsupportedURL — частный случай ErrDownloadFailed:
	// схема не http/https или расширение не из списка разрешённых.
	ErrUnsupportedURL = errors.New("ссылка не поддерживается")
	ErrUnauthorized   = errors.New("команда доступна только администратору")
	ErrInvalidToken   = token.ErrInvalidToken
	ErrRelayNotFound  = model.ErrRelayNotFound
)

// OutcomeOf возвращает исход запроса для ошибки обработчика.
// nil — успех; неизвестная ошибка — внутренняя.
func OutcomeOf(err error) flow.Outcome {
	switch {
	case err == nil:
		return flow.OutcomeOK
	case errors.Is(err, ErrBanned):
		return flow.OutcomeBanned
	case errors.Is(err, ErrInvalidToken):
		return flow.OutcomeInvalidToken
	case errors.Is(err, ErrRelayNotFound):
		return flow.OutcomeRelayNotFound
	case errors.Is(err, ErrDownloadFailed):
		return flow.OutcomeDownloadFailed
	case errors.Is(err, ErrUploadFailed):
		return flow.OutcomeUploadFailed
	default:
		return flow.OutcomeInternal
	}
}
