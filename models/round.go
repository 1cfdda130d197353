package models

import "time"

// RoundStatus соответствует ENUM round_status в БД.
type RoundStatus string

const (
	RoundStatusScheduled  RoundStatus = "scheduled"
	RoundStatusInProgress RoundStatus = "in_progress"
	RoundStatusCompleted  RoundStatus = "completed"
)

func (s RoundStatus) Valid() bool {
	switch s {
	case RoundStatusScheduled, RoundStatusInProgress, RoundStatusCompleted:
		return true
	}
	return false
}

// Round представляет тур турнира (временной блок внутри события).
type Round struct {
	ID            int         `json:"id" db:"id"`
	EventID       int         `json:"event_id" db:"event_id"`
	RoundNumber   int         `json:"round_number" db:"round_number"`
	StartDatetime time.Time   `json:"start_datetime" db:"start_datetime"`
	EndDatetime   time.Time   `json:"end_datetime" db:"end_datetime"`
	Status        RoundStatus `json:"status" db:"status"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`

	// Заполняется только в агрегированных ответах (расписание события).
	Matches []*Match `json:"matches,omitempty" db:"-"`
}
