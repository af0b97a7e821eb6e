// Пакет token — кодек токена извлечения файла.
// Токен имеет вид {issued_at}_{uploader_id}_{relay_message_id}:
// три десятичных поля, разделённых символом '_'. Все символы
// токена URL-безопасны, поэтому он передаётся в deep link без экранирования.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Separator — разделитель полей токена.
const Separator = "_"

// MaxLength — максимальная длина аргумента deep link (/start) в Telegram.
const MaxLength = 64

// ErrInvalidToken — токен не соответствует формату.
// Отличается от «сообщение не найдено в relay-канале»: пользователь
// получает разные ответы на битую ссылку и на удалённый файл.
var ErrInvalidToken = errors.New("некорректный токен")

// Token — декодированный токен извлечения.
type Token struct {
	// IssuedAt — время выпуска (unix-секунды). Только для аудита,
	// на корректность декодирования не влияет и сроком жизни не является.
	IssuedAt int64
	// UploaderID — идентификатор пользователя, загрузившего файл
	UploaderID int64
	// RelayMessageID — идентификатор сообщения в relay-канале
	RelayMessageID int
}

// New создаёт токен с временем выпуска now.
func New(uploaderID int64, relayMessageID int, now time.Time) Token {
	return Token{
		IssuedAt:       now.Unix(),
		UploaderID:     uploaderID,
		RelayMessageID: relayMessageID,
	}
}

// Encode сериализует токен с текущим временем выпуска.
func Encode(uploaderID int64, relayMessageID int) string {
	return New(uploaderID, relayMessageID, time.Now()).String()
}

// String возвращает сериализованную форму токена.
func (t Token) String() string {
	return strconv.FormatInt(t.IssuedAt, 10) + Separator +
		strconv.FormatInt(t.UploaderID, 10) + Separator +
		strconv.Itoa(t.RelayMessageID)
}

// Decode разбирает строку токена. Любое отклонение от формата
// возвращает ошибку, оборачивающую ErrInvalidToken.
func Decode(s string) (Token, error) {
	if s == "" || len(s) > MaxLength {
		return Token{}, fmt.Errorf("%w: длина %d", ErrInvalidToken, len(s))
	}

	fields := strings.Split(s, Separator)
	if len(fields) != 3 {
		return Token{}, fmt.Errorf("%w: ожидалось 3 поля, получено %d", ErrInvalidToken, len(fields))
	}

	issuedAt, err := parseField(fields[0], "issued_at")
	if err != nil {
		return Token{}, err
	}
	uploaderID, err := parseField(fields[1], "uploader_id")
	if err != nil {
		return Token{}, err
	}
	msgID, err := parseField(fields[2], "relay_message_id")
	if err != nil {
		return Token{}, err
	}

	if uploaderID == 0 {
		return Token{}, fmt.Errorf("%w: uploader_id должен быть положительным", ErrInvalidToken)
	}
	if msgID == 0 || msgID > int64(maxMessageID) {
		return Token{}, fmt.Errorf("%w: relay_message_id вне диапазона", ErrInvalidToken)
	}

	return Token{
		IssuedAt:       issuedAt,
		UploaderID:     uploaderID,
		RelayMessageID: int(msgID),
	}, nil
}

// maxMessageID — верхняя граница message_id (int32 в Bot API).
const maxMessageID = 1<<31 - 1

// parseField разбирает неотрицательное десятичное поле.
// Знаки, пробелы и пустые поля отклоняются.
func parseField(field, name string) (int64, error) {
	if field == "" {
		return 0, fmt.Errorf("%w: пустое поле %s", ErrInvalidToken, name)
	}
	for i := 0; i < len(field); i++ {
		if field[i] < '0' || field[i] > '9' {
			return 0, fmt.Errorf("%w: поле %s содержит недопустимый символ", ErrInvalidToken, name)
		}
	}
	n, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: поле %s: %v", ErrInvalidToken, name, err)
	}
	return n, nil
}
