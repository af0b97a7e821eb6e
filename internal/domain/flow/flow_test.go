package flow

import (
	"errors"
	"testing"
)

// TestUpload_HappyPath проверяет полный путь загрузки.
func TestUpload_HappyPath(t *testing.T) {
	tr := NewUpload(false)

	steps := []State{StateBanChecked, StateStored, StateTokenized, StateRecorded}
	for _, s := range steps {
		if err := tr.Advance(s); err != nil {
			t.Fatalf("Advance(%s): неожиданная ошибка: %v", s, err)
		}
	}
	if err := tr.Reply(OutcomeOK); err != nil {
		t.Fatalf("Reply: неожиданная ошибка: %v", err)
	}

	if !tr.Done() {
		t.Error("ожидалось терминальное состояние")
	}
	want := []State{StateReceived, StateBanChecked, StateStored, StateTokenized, StateRecorded, StateReplied}
	got := tr.Path()
	if len(got) != len(want) {
		t.Fatalf("ожидался путь %v, получен %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("шаг %d: ожидалось %s, получено %s", i, want[i], got[i])
		}
	}
}

// TestURLUpload_RequiresFetched проверяет, что загрузка по URL не пропускает Fetched.
func TestURLUpload_RequiresFetched(t *testing.T) {
	tr := NewUpload(true)
	if tr.Kind() != KindURLUpload {
		t.Fatalf("ожидался сценарий %s, получен %s", KindURLUpload, tr.Kind())
	}
	_ = tr.Advance(StateBanChecked)

	err := tr.Advance(StateStored)
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != "INVALID_TRANSITION" {
		t.Fatalf("ожидалась INVALID_TRANSITION, получено: %v", err)
	}

	if err := tr.Advance(StateFetched); err != nil {
		t.Fatalf("Advance(fetched): %v", err)
	}
	if err := tr.Advance(StateStored); err != nil {
		t.Fatalf("Advance(stored): %v", err)
	}
}

// TestUpload_SuccessWithoutHistory проверяет ответ с токеном при сбое записи истории.
func TestUpload_SuccessWithoutHistory(t *testing.T) {
	tr := NewUpload(false)
	for _, s := range []State{StateBanChecked, StateStored, StateTokenized} {
		if err := tr.Advance(s); err != nil {
			t.Fatalf("Advance(%s): %v", s, err)
		}
	}
	if err := tr.Reply(OutcomeOK); err != nil {
		t.Fatalf("ожидался успешный ответ из tokenized, получено: %v", err)
	}
}

// TestUpload_NoSuccessBeforeTokenized проверяет запрет успешного ответа без токена.
func TestUpload_NoSuccessBeforeTokenized(t *testing.T) {
	tr := NewUpload(false)
	_ = tr.Advance(StateBanChecked)
	_ = tr.Advance(StateStored)

	if err := tr.Reply(OutcomeOK); err == nil {
		t.Fatal("успешный ответ из stored должен быть запрещён")
	}
	if err := tr.Reply(OutcomeUploadFailed); err != nil {
		t.Fatalf("ответ с ошибкой должен быть допустим: %v", err)
	}
	if tr.Outcome() != OutcomeUploadFailed {
		t.Errorf("ожидался исход %s, получен %s", OutcomeUploadFailed, tr.Outcome())
	}
}

// TestReply_Once проверяет, что ответ отправляется ровно один раз.
func TestReply_Once(t *testing.T) {
	tr := NewRetrieval()
	if err := tr.Reply(OutcomeBanned); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	err := tr.Reply(OutcomeInternal)
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != "ALREADY_REPLIED" {
		t.Fatalf("ожидалась ALREADY_REPLIED, получено: %v", err)
	}
	if err := tr.Advance(StateBanChecked); err == nil {
		t.Error("Advance после ответа должен вернуть ошибку")
	}
}

// TestRetrieval_Path проверяет сценарий извлечения.
func TestRetrieval_Path(t *testing.T) {
	tr := NewRetrieval()
	for _, s := range []State{StateBanChecked, StateTokenDecoded, StateRelayCopyRequested} {
		if err := tr.Advance(s); err != nil {
			t.Fatalf("Advance(%s): %v", s, err)
		}
	}
	if err := tr.Advance(StateReplied); err == nil {
		t.Error("переход в replied через Advance должен быть запрещён")
	}
	if err := tr.Reply(OutcomeOK); err != nil {
		t.Fatalf("Reply: %v", err)
	}
}

// TestRetrieval_NoSuccessBeforeCopy проверяет запрет успеха без копирования.
func TestRetrieval_NoSuccessBeforeCopy(t *testing.T) {
	tr := NewRetrieval()
	_ = tr.Advance(StateBanChecked)
	_ = tr.Advance(StateTokenDecoded)

	if err := tr.Reply(OutcomeOK); err == nil {
		t.Error("успешный ответ из token_decoded должен быть запрещён")
	}
}
