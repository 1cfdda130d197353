package models

import "time"

// MatchStatus соответствует ENUM match_status в БД.
type MatchStatus string

const (
	MatchStatusScheduled  MatchStatus = "scheduled"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusCancelled  MatchStatus = "cancelled"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusScheduled, MatchStatusInProgress, MatchStatusCompleted, MatchStatusCancelled:
		return true
	}
	return false
}

// Live reports whether the match still occupies its table and players.
// Cancelled matches release their slots for reuse within the round.
func (s MatchStatus) Live() bool {
	return s != MatchStatusCancelled
}

// MatchResult — канонические шахматные обозначения результата партии.
type MatchResult string

const (
	ResultWhiteWins MatchResult = "1-0"
	ResultBlackWins MatchResult = "0-1"
	ResultDraw      MatchResult = "1/2-1/2"
	ResultNone      MatchResult = "*"
)

func (r MatchResult) Valid() bool {
	switch r {
	case ResultWhiteWins, ResultBlackWins, ResultDraw, ResultNone:
		return true
	}
	return false
}

// Match представляет партию между двумя игроками внутри тура.
type Match struct {
	ID            int          `json:"id" db:"id"`
	RoundID       int          `json:"round_id" db:"round_id"`
	WhitePlayerID int          `json:"white_player_id" db:"white_player_id"`
	BlackPlayerID int          `json:"black_player_id" db:"black_player_id"`
	TableNumber   int          `json:"table_number" db:"table_number"`
	StartDatetime time.Time    `json:"start_datetime" db:"start_datetime"`
	EndDatetime   *time.Time   `json:"end_datetime,omitempty" db:"end_datetime"`
	Status        MatchStatus  `json:"status" db:"status"`
	Result        *MatchResult `json:"result,omitempty" db:"result"`
	PGN           *string      `json:"pgn,omitempty" db:"pgn"`
	PGNKey        *string      `json:"-" db:"pgn_key"`
	PGNURL        *string      `json:"pgn_url,omitempty" db:"-"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// HasPlayer reports whether the given player sits on either side of the board.
func (m *Match) HasPlayer(playerID int) bool {
	return m.WhitePlayerID == playerID || m.BlackPlayerID == playerID
}
