package services

import "time"

// ValidateInterval проверяет, что конец интервала строго позже начала.
// Чистая функция без побочных эффектов.
func ValidateInterval(start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidInterval
	}
	return nil
}

// validateOptionalInterval применяет ValidateInterval, только когда конец задан
// (партия может не иметь конца до завершения).
func validateOptionalInterval(start time.Time, end *time.Time) error {
	if end == nil {
		return nil
	}
	return ValidateInterval(start, *end)
}
