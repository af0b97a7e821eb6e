// Пакет flow — конечный автомат обработки одного входящего запроса.
//
// Три сценария:
//   - upload: Received → BanChecked → Stored → Tokenized → Recorded → Replied
//   - url_upload: Received → BanChecked → Fetched → Stored → Tokenized → Recorded → Replied
//   - retrieval: LinkReceived → BanChecked → TokenDecoded → RelayCopyRequested → Replied
//
// Из любого нетерминального состояния допустим переход в Replied
// с неуспешным исходом. Каждый запрос завершается ровно одним ответом.
// Tracker принадлежит одной горутине обработчика и не синхронизирован.
package flow

import (
	"fmt"
)

// Kind — сценарий обработки запроса.
type Kind string

const (
	KindUpload    Kind = "upload"
	KindURLUpload Kind = "url_upload"
	KindRetrieval Kind = "retrieval"
)

// State — состояние запроса.
type State string

const (
	StateReceived           State = "received"
	StateLinkReceived       State = "link_received"
	StateBanChecked         State = "ban_checked"
	StateFetched            State = "fetched"
	StateStored             State = "stored"
	StateTokenized          State = "tokenized"
	StateRecorded           State = "recorded"
	StateTokenDecoded       State = "token_decoded"
	StateRelayCopyRequested State = "relay_copy_requested"
	StateReplied            State = "replied"
)

// Outcome — исход запроса, определяющий текст ответа пользователю.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeBanned         Outcome = "banned"
	OutcomeUploadFailed   Outcome = "upload_failed"
	OutcomeDownloadFailed Outcome = "download_failed"
	OutcomeInvalidToken   Outcome = "invalid_token"
	OutcomeRelayNotFound  Outcome = "relay_not_found"
	OutcomeInternal       Outcome = "internal"
)

// validTransitions — матрица допустимых переходов для каждого сценария
// (без учёта перехода в Replied при ошибке).
var validTransitions = map[Kind]map[State]State{
	KindUpload: {
		StateReceived:   StateBanChecked,
		StateBanChecked: StateStored,
		StateStored:     StateTokenized,
		StateTokenized:  StateRecorded,
		StateRecorded:   StateReplied,
	},
	KindURLUpload: {
		StateReceived:   StateBanChecked,
		StateBanChecked: StateFetched,
		StateFetched:    StateStored,
		StateStored:     StateTokenized,
		StateTokenized:  StateRecorded,
		StateRecorded:   StateReplied,
	},
	KindRetrieval: {
		StateLinkReceived:       StateBanChecked,
		StateBanChecked:         StateTokenDecoded,
		StateTokenDecoded:       StateRelayCopyRequested,
		StateRelayCopyRequested: StateReplied,
	},
}

// successFrom — состояния, из которых допустим успешный ответ.
// Tokenized → Replied: история не записалась, но токен уже выпущен
// и пользователь обязан его получить.
var successFrom = map[Kind]map[State]bool{
	KindUpload:    {StateRecorded: true, StateTokenized: true},
	KindURLUpload: {StateRecorded: true, StateTokenized: true},
	KindRetrieval: {StateRelayCopyRequested: true},
}

// Tracker — состояние одного запроса.
type Tracker struct {
	kind    Kind
	current State
	path    []State
	outcome Outcome
}

// NewUpload создаёт автомат загрузки. fromURL добавляет шаг Fetched.
func NewUpload(fromURL bool) *Tracker {
	kind := KindUpload
	if fromURL {
		kind = KindURLUpload
	}
	return newTracker(kind, StateReceived)
}

// NewRetrieval создаёт автомат извлечения файла по токену.
func NewRetrieval() *Tracker {
	return newTracker(KindRetrieval, StateLinkReceived)
}

func newTracker(kind Kind, initial State) *Tracker {
	return &Tracker{
		kind:    kind,
		current: initial,
		path:    []State{initial},
	}
}

// Kind возвращает сценарий.
func (t *Tracker) Kind() Kind { return t.kind }

// Current возвращает текущее состояние.
func (t *Tracker) Current() State { return t.current }

// Outcome возвращает исход. Пустая строка — ответ ещё не отправлен.
func (t *Tracker) Outcome() Outcome { return t.outcome }

// Done сообщает, достигнуто ли терминальное состояние.
func (t *Tracker) Done() bool { return t.current == StateReplied }

// Path возвращает пройденные состояния (копия).
func (t *Tracker) Path() []State {
	result := make([]State, len(t.path))
	copy(result, t.path)
	return result
}

// Advance переводит автомат в следующее состояние сценария.
// Переход в Replied выполняется только через Reply.
func (t *Tracker) Advance(to State) error {
	if t.Done() {
		return &TransitionError{
			Code:    "ALREADY_REPLIED",
			Message: fmt.Sprintf("запрос %s уже завершён", t.kind),
		}
	}
	if to == StateReplied {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: "переход в replied выполняется через Reply",
		}
	}

	next, ok := validTransitions[t.kind][t.current]
	if !ok || next != to {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим для %s", t.current, to, t.kind),
		}
	}

	t.current = to
	t.path = append(t.path, to)
	return nil
}

// Reply завершает запрос с указанным исходом.
// Успешный исход допустим только из состояний successFrom,
// неуспешный — из любого нетерминального.
func (t *Tracker) Reply(outcome Outcome) error {
	if t.Done() {
		return &TransitionError{
			Code:    "ALREADY_REPLIED",
			Message: fmt.Sprintf("запрос %s уже завершён с исходом %s", t.kind, t.outcome),
		}
	}
	if outcome == OutcomeOK && !successFrom[t.kind][t.current] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("успешный ответ из состояния %s недопустим для %s", t.current, t.kind),
		}
	}

	t.current = StateReplied
	t.path = append(t.path, StateReplied)
	t.outcome = outcome
	return nil
}

// TransitionError — ошибка перехода автомата.
type TransitionError struct {
	Code    string // INVALID_TRANSITION, ALREADY_REPLIED
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
