package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mary1sa/chess-arena/models"
	"github.com/mary1sa/chess-arena/repositories"
	"github.com/mary1sa/chess-arena/storage"
)

type CreateMatchInput struct {
	WhitePlayerID int        `json:"white_player_id"`
	BlackPlayerID int        `json:"black_player_id"`
	TableNumber   int        `json:"table_number"`
	StartDatetime time.Time  `json:"start_datetime"`
	EndDatetime   *time.Time `json:"end_datetime"`
}

type UpdateMatchInput struct {
	WhitePlayerID *int       `json:"white_player_id"`
	BlackPlayerID *int       `json:"black_player_id"`
	TableNumber   *int       `json:"table_number"`
	StartDatetime *time.Time `json:"start_datetime"`
	EndDatetime   *time.Time `json:"end_datetime"`
}

type MatchService interface {
	CreateMatch(ctx context.Context, roundID int, input CreateMatchInput) (*models.Match, error)
	GetMatchByID(ctx context.Context, matchID int) (*models.Match, error)
	ListMatchesByRound(ctx context.Context, roundID int) ([]*models.Match, error)
	UpdateMatch(ctx context.Context, matchID int, input UpdateMatchInput) (*models.Match, error)
	StartMatch(ctx context.Context, matchID int) (*models.Match, error)
	CancelMatch(ctx context.Context, matchID int) (*models.Match, error)
	DeleteMatch(ctx context.Context, matchID int) error
}

type matchService struct {
	db        *sql.DB
	matchRepo repositories.MatchRepository
	roundRepo repositories.RoundRepository
	pairing   *PairingValidator
	locks     *KeyedLock
	notifier  EventNotifier
	uploader  storage.Uploader
}

func NewMatchService(
	db *sql.DB,
	matchRepo repositories.MatchRepository,
	roundRepo repositories.RoundRepository,
	pairing *PairingValidator,
	locks *KeyedLock,
	notifier EventNotifier,
	uploader storage.Uploader,
) MatchService {
	return &matchService{
		db:        db,
		matchRepo: matchRepo,
		roundRepo: roundRepo,
		pairing:   pairing,
		locks:     locks,
		notifier:  notifier,
		uploader:  uploader,
	}
}

func validateMatchInput(whiteID, blackID, tableNumber int) error {
	if whiteID <= 0 || blackID <= 0 {
		return ErrInvalidPlayerID
	}
	if tableNumber <= 0 {
		return ErrInvalidTableNumber
	}
	return nil
}

// CreateMatch выполняет проверку интервала и пары и запись как одно целое:
// при любой ошибке партия не сохраняется.
func (s *matchService) CreateMatch(ctx context.Context, roundID int, input CreateMatchInput) (*models.Match, error) {
	if err := validateMatchInput(input.WhitePlayerID, input.BlackPlayerID, input.TableNumber); err != nil {
		return nil, err
	}
	if err := validateOptionalInterval(input.StartDatetime, input.EndDatetime); err != nil {
		return nil, err
	}
	if input.WhitePlayerID == input.BlackPlayerID {
		return nil, ErrSamePlayerTwice
	}

	unlock := s.locks.Lock(roundKey(roundID))
	defer unlock()

	match := &models.Match{
		RoundID:       roundID,
		WhitePlayerID: input.WhitePlayerID,
		BlackPlayerID: input.BlackPlayerID,
		TableNumber:   input.TableNumber,
		StartDatetime: input.StartDatetime,
		EndDatetime:   input.EndDatetime,
		Status:        models.MatchStatusScheduled,
	}

	var eventID int
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		round, err := s.roundRepo.GetByIDForUpdate(ctx, tx, roundID)
		if err != nil {
			return err
		}
		eventID = round.EventID

		if err := s.pairing.Validate(ctx, tx, roundID, input.WhitePlayerID, input.BlackPlayerID, input.TableNumber, nil); err != nil {
			return err
		}
		return s.matchRepo.Create(ctx, tx, match)
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrRoundNotFound), errors.Is(err, repositories.ErrMatchRoundInvalid):
			return nil, ErrRoundNotFound
		case errors.Is(err, repositories.ErrMatchTableConflict):
			return nil, ErrTableOccupied
		}
		return nil, fmt.Errorf("failed to create match in round %d: %w", roundID, err)
	}

	notify(s.notifier, eventID, NotifyMatchCreated, match)
	return s.decorate(match), nil
}

func (s *matchService) GetMatchByID(ctx context.Context, matchID int) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return s.decorate(match), nil
}

func (s *matchService) ListMatchesByRound(ctx context.Context, roundID int) ([]*models.Match, error) {
	if _, err := s.roundRepo.GetByID(ctx, roundID); err != nil {
		if errors.Is(err, repositories.ErrRoundNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}

	matches, err := s.matchRepo.ListByRound(ctx, nil, roundID, nil)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		s.decorate(m)
	}
	return matches, nil
}

func (s *matchService) UpdateMatch(ctx context.Context, matchID int, input UpdateMatchInput) (*models.Match, error) {
	current, err := s.GetMatchByID(ctx, matchID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(roundKey(current.RoundID))
	defer unlock()

	var updated *models.Match
	var eventID int
	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		match, err := s.matchRepo.GetByIDForUpdate(ctx, tx, matchID)
		if err != nil {
			return err
		}
		// Завершённые и отменённые партии неизменяемы.
		if match.Status == models.MatchStatusCompleted || match.Status == models.MatchStatusCancelled {
			return ErrMatchLocked
		}

		round, err := s.roundRepo.GetByIDForUpdate(ctx, tx, match.RoundID)
		if err != nil {
			return err
		}
		eventID = round.EventID

		pairingChanged := false
		if input.WhitePlayerID != nil && *input.WhitePlayerID != match.WhitePlayerID {
			match.WhitePlayerID = *input.WhitePlayerID
			pairingChanged = true
		}
		if input.BlackPlayerID != nil && *input.BlackPlayerID != match.BlackPlayerID {
			match.BlackPlayerID = *input.BlackPlayerID
			pairingChanged = true
		}
		if input.TableNumber != nil && *input.TableNumber != match.TableNumber {
			match.TableNumber = *input.TableNumber
			pairingChanged = true
		}
		if input.StartDatetime != nil {
			match.StartDatetime = *input.StartDatetime
		}
		if input.EndDatetime != nil {
			match.EndDatetime = input.EndDatetime
		}

		if err := validateMatchInput(match.WhitePlayerID, match.BlackPlayerID, match.TableNumber); err != nil {
			return err
		}
		if err := validateOptionalInterval(match.StartDatetime, match.EndDatetime); err != nil {
			return err
		}
		if pairingChanged {
			// Сама партия исключается из проверки: она не конфликтует с собой.
			if err := s.pairing.Validate(ctx, tx, match.RoundID, match.WhitePlayerID, match.BlackPlayerID, match.TableNumber, &match.ID); err != nil {
				return err
			}
		}

		if err := s.matchRepo.Update(ctx, tx, match); err != nil {
			return err
		}
		updated = match
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrMatchNotFound):
			return nil, ErrMatchNotFound
		case errors.Is(err, repositories.ErrMatchTableConflict):
			return nil, ErrTableOccupied
		}
		return nil, err
	}

	notify(s.notifier, eventID, NotifyMatchUpdated, updated)
	return s.decorate(updated), nil
}

func (s *matchService) StartMatch(ctx context.Context, matchID int) (*models.Match, error) {
	return s.transition(ctx, matchID, models.MatchStatusInProgress, func(status models.MatchStatus) bool {
		return status == models.MatchStatusScheduled
	})
}

// CancelMatch освобождает стол и игроков для повторного использования в туре.
func (s *matchService) CancelMatch(ctx context.Context, matchID int) (*models.Match, error) {
	return s.transition(ctx, matchID, models.MatchStatusCancelled, func(status models.MatchStatus) bool {
		return status == models.MatchStatusScheduled || status == models.MatchStatusInProgress
	})
}

func (s *matchService) transition(ctx context.Context, matchID int, to models.MatchStatus, allowed func(models.MatchStatus) bool) (*models.Match, error) {
	current, err := s.GetMatchByID(ctx, matchID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(roundKey(current.RoundID))
	defer unlock()

	var match *models.Match
	var eventID int
	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		match, err = s.matchRepo.GetByIDForUpdate(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if !allowed(match.Status) {
			return ErrInvalidMatchTransition
		}

		round, err := s.roundRepo.GetByID(ctx, match.RoundID)
		if err != nil {
			return err
		}
		eventID = round.EventID

		if err := s.matchRepo.UpdateStatus(ctx, tx, matchID, to); err != nil {
			return err
		}
		match.Status = to
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}

	notify(s.notifier, eventID, NotifyMatchUpdated, match)
	return s.decorate(match), nil
}

// DeleteMatch разрешён для любого статуса: в отличие от удаления тура это
// точечный инструмент исправления, а не потеря истории турнира.
func (s *matchService) DeleteMatch(ctx context.Context, matchID int) error {
	current, err := s.GetMatchByID(ctx, matchID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(roundKey(current.RoundID))
	defer unlock()

	var eventID int
	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		round, err := s.roundRepo.GetByID(ctx, current.RoundID)
		if err != nil {
			return err
		}
		eventID = round.EventID
		return s.matchRepo.Delete(ctx, tx, matchID)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return ErrMatchNotFound
		}
		return err
	}

	// Архивная копия PGN не должна переживать партию. Ошибка архива не
	// отменяет удаление: строки в БД уже нет.
	if s.uploader != nil && current.PGNKey != nil {
		if err := s.uploader.Delete(ctx, *current.PGNKey); err != nil {
			slog.Warn("failed to delete archived PGN",
				slog.Int("match_id", matchID),
				slog.String("key", *current.PGNKey),
				slog.Any("error", err),
			)
		}
	}

	notify(s.notifier, eventID, NotifyMatchDeleted, map[string]int{"match_id": matchID, "round_id": current.RoundID})
	return nil
}

// decorate добавляет производные поля (публичный URL архива PGN).
func (s *matchService) decorate(match *models.Match) *models.Match {
	if match == nil {
		return nil
	}
	if s.uploader != nil && match.PGNKey != nil {
		url := s.uploader.GetPublicURL(*match.PGNKey)
		if url != "" {
			match.PGNURL = &url
		}
	}
	return match
}
