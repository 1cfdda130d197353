package services

import "errors"

// Общие ошибки сервисного слоя; маппинг в HTTP живёт в handlers.
var (
	// Ресурсы
	ErrRoundNotFound = errors.New("round not found")
	ErrMatchNotFound = errors.New("match not found")

	// Ошибки валидации: структурно некорректный ввод, ничего не записано.
	ErrInvalidInterval     = errors.New("end datetime must be after start datetime")
	ErrInvalidRoundNumber  = errors.New("round number must be a positive integer")
	ErrInvalidTableNumber  = errors.New("table number must be a positive integer")
	ErrInvalidPlayerID     = errors.New("player id must be a positive integer")
	ErrSamePlayerTwice     = errors.New("a player cannot be paired against themselves")
	ErrInvalidResultFormat = errors.New("result must be one of 1-0, 0-1, 1/2-1/2, *")

	// Ошибки конфликтов: запрос корректен, но нарушает текущий инвариант.
	ErrDuplicateRoundNumber = errors.New("round number already exists for this event")
	ErrRoundLocked          = errors.New("completed round schedule cannot be edited")
	ErrRoundHasHistory      = errors.New("round has matches in progress or completed and cannot be deleted")
	ErrPlayerDoubleBooked   = errors.New("player is already paired in another match of this round")
	ErrTableOccupied        = errors.New("table is already occupied in this round")
	ErrMatchLocked          = errors.New("completed or cancelled match cannot be edited")

	// Недопустимые переходы статусов.
	ErrInvalidRoundTransition = errors.New("invalid round status transition")
	ErrInvalidMatchTransition = errors.New("invalid match status transition")

	// Аутентификация
	ErrAuthInvalidCredentials = errors.New("invalid email or password")
)
