package services

import (
	"context"
	"fmt"

	"github.com/mary1sa/chess-arena/repositories"
)

// PairingValidator проверяет структурную корректность предложенной пары
// (белые, чёрные, стол) относительно остальных партий тура. Сам он состояния
// не хранит: только читает текущие партии тура.
type PairingValidator struct {
	matchRepo repositories.MatchRepository
}

func NewPairingValidator(matchRepo repositories.MatchRepository) *PairingValidator {
	return &PairingValidator{matchRepo: matchRepo}
}

// Validate запускается внутри критической секции тура (см. match_service),
// иначе две параллельные проверки могут обе пройти и обе записаться.
// excludeMatchID исключает саму обновляемую партию из проверки.
func (v *PairingValidator) Validate(
	ctx context.Context,
	exec repositories.SQLExecutor,
	roundID int,
	whitePlayerID, blackPlayerID, tableNumber int,
	excludeMatchID *int,
) error {
	if whitePlayerID == blackPlayerID {
		return ErrSamePlayerTwice
	}

	matches, err := v.matchRepo.ListByRound(ctx, exec, roundID, nil)
	if err != nil {
		return fmt.Errorf("failed to load matches of round %d for pairing validation: %w", roundID, err)
	}

	for _, m := range matches {
		if excludeMatchID != nil && m.ID == *excludeMatchID {
			continue
		}
		if !m.Status.Live() {
			continue
		}
		if m.HasPlayer(whitePlayerID) || m.HasPlayer(blackPlayerID) {
			return ErrPlayerDoubleBooked
		}
		if m.TableNumber == tableNumber {
			return ErrTableOccupied
		}
	}
	return nil
}
