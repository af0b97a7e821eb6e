package model

import "errors"

// ErrRelayNotFound — сообщение в relay-канале не найдено (удалено
// администратором или никогда не существовало).
var ErrRelayNotFound = errors.New("сообщение в relay-канале не найдено")
