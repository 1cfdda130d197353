package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mary1sa/chess-arena/models"
	"github.com/mary1sa/chess-arena/repositories"
	"github.com/mary1sa/chess-arena/storage"
)

type RecordResultInput struct {
	Result models.MatchResult `json:"result"`
	PGN    *string            `json:"pgn"`
}

type ResultService interface {
	// RecordResult переводит партию in_progress -> completed и атомарно
	// записывает результат (и, опционально, PGN). Переход терминальный.
	RecordResult(ctx context.Context, matchID int, input RecordResultInput) (*models.Match, error)
	HasUnfinishedMatches(ctx context.Context, roundID int) (bool, error)
}

type resultService struct {
	db        *sql.DB
	matchRepo repositories.MatchRepository
	roundRepo repositories.RoundRepository
	locks     *KeyedLock
	notifier  EventNotifier
	uploader  storage.Uploader
	logger    *slog.Logger
}

func NewResultService(
	db *sql.DB,
	matchRepo repositories.MatchRepository,
	roundRepo repositories.RoundRepository,
	locks *KeyedLock,
	notifier EventNotifier,
	uploader storage.Uploader,
	logger *slog.Logger,
) ResultService {
	return &resultService{
		db:        db,
		matchRepo: matchRepo,
		roundRepo: roundRepo,
		locks:     locks,
		notifier:  notifier,
		uploader:  uploader,
		logger:    logger,
	}
}

func (s *resultService) RecordResult(ctx context.Context, matchID int, input RecordResultInput) (*models.Match, error) {
	if !input.Result.Valid() {
		return nil, ErrInvalidResultFormat
	}

	current, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
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
		if match.Status != models.MatchStatusInProgress {
			return ErrInvalidMatchTransition
		}

		round, err := s.roundRepo.GetByID(ctx, match.RoundID)
		if err != nil {
			return err
		}
		eventID = round.EventID

		result := input.Result
		match.Status = models.MatchStatusCompleted
		match.Result = &result
		if input.PGN != nil && strings.TrimSpace(*input.PGN) != "" {
			match.PGN = input.PGN
		}
		return s.matchRepo.RecordResult(ctx, tx, match)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}

	s.archivePGN(ctx, match)

	notify(s.notifier, eventID, NotifyMatchUpdated, match)
	return match, nil
}

// archivePGN выгружает текст партии в объектное хранилище. Ошибка архива не
// отменяет запись результата: авторитетная копия PGN лежит в БД.
func (s *resultService) archivePGN(ctx context.Context, match *models.Match) {
	if s.uploader == nil || match.PGN == nil {
		return
	}

	key := fmt.Sprintf("pgn/round_%d/match_%d.pgn", match.RoundID, match.ID)
	_, err := s.uploader.Upload(ctx, key, "application/x-chess-pgn", strings.NewReader(*match.PGN))
	if err != nil {
		s.logger.Warn("failed to archive PGN",
			slog.Int("match_id", match.ID),
			slog.Any("error", err),
		)
		return
	}

	if err := s.matchRepo.SetPGNKey(ctx, nil, match.ID, key); err != nil {
		s.logger.Warn("failed to store PGN archive key",
			slog.Int("match_id", match.ID),
			slog.Any("error", err),
		)
		return
	}

	match.PGNKey = &key
	if url := s.uploader.GetPublicURL(key); url != "" {
		match.PGNURL = &url
	}
}

// HasUnfinishedMatches — запрос для завершения тура: остались ли партии
// в статусах scheduled или in_progress. Состояние не меняет.
func (s *resultService) HasUnfinishedMatches(ctx context.Context, roundID int) (bool, error) {
	return s.matchRepo.HasUnfinishedByRound(ctx, roundID)
}
