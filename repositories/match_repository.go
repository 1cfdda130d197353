package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mary1sa/chess-arena/models"
)

var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrMatchTableConflict = errors.New("table is already occupied in this round")
	ErrMatchRoundInvalid  = errors.New("match references an unknown round")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	ListByRound(ctx context.Context, exec SQLExecutor, roundID int, status *models.MatchStatus) ([]*models.Match, error)
	Update(ctx context.Context, exec SQLExecutor, match *models.Match) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.MatchStatus) error
	RecordResult(ctx context.Context, exec SQLExecutor, match *models.Match) error
	SetPGNKey(ctx context.Context, exec SQLExecutor, id int, key string) error
	Delete(ctx context.Context, exec SQLExecutor, id int) error
	HasUnfinishedByRound(ctx context.Context, roundID int) (bool, error)
	CountHistoryByRound(ctx context.Context, exec SQLExecutor, roundID int) (int, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

const matchColumns = `id, round_id, white_player_id, black_player_id, table_number,
	start_datetime, end_datetime, status, result, pgn, pgn_key, created_at`

func scanMatch(row interface{ Scan(...interface{}) error }, match *models.Match) error {
	return row.Scan(
		&match.ID,
		&match.RoundID,
		&match.WhitePlayerID,
		&match.BlackPlayerID,
		&match.TableNumber,
		&match.StartDatetime,
		&match.EndDatetime,
		&match.Status,
		&match.Result,
		&match.PGN,
		&match.PGNKey,
		&match.CreatedAt,
	)
}

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		INSERT INTO matches
			(round_id, white_player_id, black_player_id, table_number, start_datetime, end_datetime, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := exec.QueryRowContext(ctx, query,
		match.RoundID,
		match.WhitePlayerID,
		match.BlackPlayerID,
		match.TableNumber,
		match.StartDatetime,
		match.EndDatetime,
		match.Status,
	).Scan(&match.ID, &match.CreatedAt)

	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	return r.getByID(ctx, r.db, id, "")
}

func (r *postgresMatchRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	return r.getByID(ctx, exec, id, " FOR UPDATE")
}

func (r *postgresMatchRepository) getByID(ctx context.Context, exec SQLExecutor, id int, suffix string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1` + suffix

	match := &models.Match{}
	err := scanMatch(exec.QueryRowContext(ctx, query, id), match)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %d: %w", id, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByRound(ctx context.Context, exec SQLExecutor, roundID int, statusFilter *models.MatchStatus) ([]*models.Match, error) {
	if exec == nil {
		exec = r.db
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + matchColumns + ` FROM matches WHERE round_id = $1`)

	args := []interface{}{roundID}
	if statusFilter != nil {
		queryBuilder.WriteString(" AND status = $")
		queryBuilder.WriteString(strconv.Itoa(len(args) + 1))
		args = append(args, *statusFilter)
	}
	queryBuilder.WriteString(" ORDER BY table_number ASC, id ASC")

	rows, err := exec.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for round %d: %w", roundID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		var match models.Match
		if scanErr := scanMatch(rows, &match); scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, &match)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) Update(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		UPDATE matches
		SET white_player_id = $1, black_player_id = $2, table_number = $3,
		    start_datetime = $4, end_datetime = $5
		WHERE id = $6`

	result, err := exec.ExecContext(ctx, query,
		match.WhitePlayerID,
		match.BlackPlayerID,
		match.TableNumber,
		match.StartDatetime,
		match.EndDatetime,
		match.ID,
	)
	if err != nil {
		return r.handleMatchError(err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.MatchStatus) error {
	query := `UPDATE matches SET status = $1 WHERE id = $2`

	result, err := exec.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update match %d status: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

// RecordResult атомарно записывает терминальное состояние партии.
func (r *postgresMatchRepository) RecordResult(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		UPDATE matches
		SET status = $1, result = $2, pgn = $3, pgn_key = $4, end_datetime = $5
		WHERE id = $6`

	result, err := exec.ExecContext(ctx, query,
		match.Status,
		match.Result,
		match.PGN,
		match.PGNKey,
		match.EndDatetime,
		match.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record result for match %d: %w", match.ID, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) SetPGNKey(ctx context.Context, exec SQLExecutor, id int, key string) error {
	if exec == nil {
		exec = r.db
	}
	query := `UPDATE matches SET pgn_key = $1 WHERE id = $2`

	result, err := exec.ExecContext(ctx, query, key, id)
	if err != nil {
		return fmt.Errorf("failed to set pgn key for match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	query := `DELETE FROM matches WHERE id = $1`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

// HasUnfinishedByRound сообщает, остались ли в туре незавершённые партии.
func (r *postgresMatchRepository) HasUnfinishedByRound(ctx context.Context, roundID int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM matches
			WHERE round_id = $1 AND status IN ('scheduled', 'in_progress')
		)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, roundID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check unfinished matches for round %d: %w", roundID, err)
	}
	return exists, nil
}

// CountHistoryByRound считает партии, удаление которых потеряло бы историю
// (идущие и завершённые).
func (r *postgresMatchRepository) CountHistoryByRound(ctx context.Context, exec SQLExecutor, roundID int) (int, error) {
	if exec == nil {
		exec = r.db
	}
	query := `
		SELECT COUNT(*) FROM matches
		WHERE round_id = $1 AND status IN ('in_progress', 'completed')`

	var count int
	if err := exec.QueryRowContext(ctx, query, roundID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count match history for round %d: %w", roundID, err)
	}
	return count, nil
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// "23503": foreign_key_violation, "23505": unique_violation
		switch pqErr.Constraint {
		case "matches_round_id_fkey":
			return ErrMatchRoundInvalid
		case "matches_round_table_live_key":
			return ErrMatchTableConflict
		}
	}
	return err
}
