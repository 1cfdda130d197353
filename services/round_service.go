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
	"golang.org/x/sync/errgroup"
)

type CreateRoundInput struct {
	RoundNumber   int       `json:"round_number"`
	StartDatetime time.Time `json:"start_datetime"`
	EndDatetime   time.Time `json:"end_datetime"`
}

type UpdateRoundInput struct {
	RoundNumber   *int       `json:"round_number"`
	StartDatetime *time.Time `json:"start_datetime"`
	EndDatetime   *time.Time `json:"end_datetime"`
}

// UnfinishedMatchChecker — срез Result Recorder, нужный туру для решения о
// предупреждении при завершении.
type UnfinishedMatchChecker interface {
	HasUnfinishedMatches(ctx context.Context, roundID int) (bool, error)
}

type RoundService interface {
	CreateRound(ctx context.Context, eventID int, input CreateRoundInput) (*models.Round, error)
	GetRoundByID(ctx context.Context, roundID int) (*models.Round, error)
	ListRoundsByEvent(ctx context.Context, eventID int) ([]*models.Round, error)
	GetEventSchedule(ctx context.Context, eventID int) ([]*models.Round, error)
	UpdateRound(ctx context.Context, roundID int, input UpdateRoundInput) (*models.Round, error)
	StartRound(ctx context.Context, roundID int) (*models.Round, error)
	// CompleteRound переводит тур в completed. Второе значение — признак
	// незавершённых партий: завершение разрешено (неявки и форфейты —
	// обычное дело), но вызывающий получает предупреждение.
	CompleteRound(ctx context.Context, roundID int) (*models.Round, bool, error)
	DeleteRound(ctx context.Context, roundID int) error
	ListUpcomingWithin(ctx context.Context, window time.Duration) ([]*models.Round, error)
}

type roundService struct {
	db         *sql.DB
	roundRepo  repositories.RoundRepository
	matchRepo  repositories.MatchRepository
	unfinished UnfinishedMatchChecker
	locks      *KeyedLock
	notifier   EventNotifier
}

func NewRoundService(
	db *sql.DB,
	roundRepo repositories.RoundRepository,
	matchRepo repositories.MatchRepository,
	unfinished UnfinishedMatchChecker,
	locks *KeyedLock,
	notifier EventNotifier,
) RoundService {
	return &roundService{
		db:         db,
		roundRepo:  roundRepo,
		matchRepo:  matchRepo,
		unfinished: unfinished,
		locks:      locks,
		notifier:   notifier,
	}
}

func (s *roundService) CreateRound(ctx context.Context, eventID int, input CreateRoundInput) (*models.Round, error) {
	if input.RoundNumber <= 0 {
		return nil, ErrInvalidRoundNumber
	}
	if err := ValidateInterval(input.StartDatetime, input.EndDatetime); err != nil {
		return nil, err
	}

	// Уникальность номера тура проверяется в рамках события.
	unlock := s.locks.Lock(eventKey(eventID))
	defer unlock()

	round := &models.Round{
		EventID:       eventID,
		RoundNumber:   input.RoundNumber,
		StartDatetime: input.StartDatetime,
		EndDatetime:   input.EndDatetime,
		Status:        models.RoundStatusScheduled,
	}

	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.roundRepo.Create(ctx, tx, round)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrRoundNumberConflict) {
			return nil, ErrDuplicateRoundNumber
		}
		return nil, fmt.Errorf("failed to create round %d for event %d: %w", input.RoundNumber, eventID, err)
	}

	notify(s.notifier, round.EventID, NotifyRoundCreated, round)
	return round, nil
}

func (s *roundService) GetRoundByID(ctx context.Context, roundID int) (*models.Round, error) {
	round, err := s.roundRepo.GetByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoundNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}
	return round, nil
}

func (s *roundService) ListRoundsByEvent(ctx context.Context, eventID int) ([]*models.Round, error) {
	return s.roundRepo.ListByEvent(ctx, eventID)
}

// GetEventSchedule возвращает туры события вместе с партиями каждого тура.
// Партии загружаются параллельно.
func (s *roundService) GetEventSchedule(ctx context.Context, eventID int) ([]*models.Round, error) {
	rounds, err := s.roundRepo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, round := range rounds {
		round := round
		g.Go(func() error {
			matches, err := s.matchRepo.ListByRound(gCtx, nil, round.ID, nil)
			if err != nil {
				return fmt.Errorf("failed to load matches of round %d: %w", round.ID, err)
			}
			round.Matches = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rounds, nil
}

func (s *roundService) UpdateRound(ctx context.Context, roundID int, input UpdateRoundInput) (*models.Round, error) {
	if input.RoundNumber != nil && *input.RoundNumber <= 0 {
		return nil, ErrInvalidRoundNumber
	}

	current, err := s.GetRoundByID(ctx, roundID)
	if err != nil {
		return nil, err
	}

	// Смена номера перепроверяет уникальность в событии, поэтому
	// сериализуемся на событии, а не на отдельном туре.
	unlock := s.locks.Lock(eventKey(current.EventID))
	defer unlock()

	var updated *models.Round
	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		round, err := s.roundRepo.GetByIDForUpdate(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if round.Status == models.RoundStatusCompleted {
			return ErrRoundLocked
		}

		if input.RoundNumber != nil {
			round.RoundNumber = *input.RoundNumber
		}
		if input.StartDatetime != nil {
			round.StartDatetime = *input.StartDatetime
		}
		if input.EndDatetime != nil {
			round.EndDatetime = *input.EndDatetime
		}
		if err := ValidateInterval(round.StartDatetime, round.EndDatetime); err != nil {
			return err
		}

		if err := s.roundRepo.Update(ctx, tx, round); err != nil {
			return err
		}
		updated = round
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrRoundNotFound):
			return nil, ErrRoundNotFound
		case errors.Is(err, repositories.ErrRoundNumberConflict):
			return nil, ErrDuplicateRoundNumber
		}
		return nil, err
	}

	notify(s.notifier, updated.EventID, NotifyRoundUpdated, updated)
	return updated, nil
}

func (s *roundService) StartRound(ctx context.Context, roundID int) (*models.Round, error) {
	return s.transition(ctx, roundID, models.RoundStatusScheduled, models.RoundStatusInProgress)
}

func (s *roundService) CompleteRound(ctx context.Context, roundID int) (*models.Round, bool, error) {
	round, err := s.transition(ctx, roundID, models.RoundStatusInProgress, models.RoundStatusCompleted)
	if err != nil {
		return nil, false, err
	}

	unfinished, err := s.unfinished.HasUnfinishedMatches(ctx, roundID)
	if err != nil {
		// Переход уже зафиксирован; ошибка проверки не превращает успех в 500.
		slog.Warn("unfinished-match check failed after round completion",
			slog.Int("round_id", roundID),
			slog.Any("error", err),
		)
		return round, false, nil
	}
	return round, unfinished, nil
}

// transition выполняет единственно допустимый шаг машины состояний тура:
// scheduled -> in_progress -> completed, без пропусков и откатов.
func (s *roundService) transition(ctx context.Context, roundID int, from, to models.RoundStatus) (*models.Round, error) {
	unlock := s.locks.Lock(roundKey(roundID))
	defer unlock()

	var round *models.Round
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		round, err = s.roundRepo.GetByIDForUpdate(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if round.Status != from {
			return ErrInvalidRoundTransition
		}
		if err := s.roundRepo.UpdateStatus(ctx, tx, roundID, to); err != nil {
			return err
		}
		round.Status = to
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrRoundNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}

	notify(s.notifier, round.EventID, NotifyRoundUpdated, round)
	return round, nil
}

func (s *roundService) DeleteRound(ctx context.Context, roundID int) error {
	unlock := s.locks.Lock(roundKey(roundID))
	defer unlock()

	var eventID int
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		round, err := s.roundRepo.GetByIDForUpdate(ctx, tx, roundID)
		if err != nil {
			return err
		}

		// Удаление тура с живой историей партий молча потеряло бы результаты.
		history, err := s.matchRepo.CountHistoryByRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if history > 0 {
			return ErrRoundHasHistory
		}

		eventID = round.EventID
		return s.roundRepo.Delete(ctx, tx, roundID)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrRoundNotFound) {
			return ErrRoundNotFound
		}
		return err
	}

	notify(s.notifier, eventID, NotifyRoundDeleted, map[string]int{"round_id": roundID})
	return nil
}

// ListUpcomingWithin возвращает запланированные туры, начинающиеся в ближайшем
// окне. Используется напоминателем в cmd/main.
func (s *roundService) ListUpcomingWithin(ctx context.Context, window time.Duration) ([]*models.Round, error) {
	now := time.Now()
	return s.roundRepo.ListScheduledBetween(ctx, now, now.Add(window))
}
