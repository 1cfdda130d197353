package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mary1sa/chess-arena/models"
)

var (
	ErrRoundNotFound       = errors.New("round not found")
	ErrRoundNumberConflict = errors.New("round number already exists for this event")
)

type RoundRepository interface {
	Create(ctx context.Context, exec SQLExecutor, round *models.Round) error
	GetByID(ctx context.Context, id int) (*models.Round, error)
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Round, error)
	ListByEvent(ctx context.Context, eventID int) ([]*models.Round, error)
	ListScheduledBetween(ctx context.Context, from, to time.Time) ([]*models.Round, error)
	Update(ctx context.Context, exec SQLExecutor, round *models.Round) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.RoundStatus) error
	Delete(ctx context.Context, exec SQLExecutor, id int) error
}

type postgresRoundRepository struct {
	db *sql.DB
}

func NewPostgresRoundRepository(db *sql.DB) RoundRepository {
	return &postgresRoundRepository{db: db}
}

const roundColumns = `id, event_id, round_number, start_datetime, end_datetime, status, created_at`

func scanRound(row interface{ Scan(...interface{}) error }, round *models.Round) error {
	return row.Scan(
		&round.ID,
		&round.EventID,
		&round.RoundNumber,
		&round.StartDatetime,
		&round.EndDatetime,
		&round.Status,
		&round.CreatedAt,
	)
}

func (r *postgresRoundRepository) Create(ctx context.Context, exec SQLExecutor, round *models.Round) error {
	query := `
		INSERT INTO rounds (event_id, round_number, start_datetime, end_datetime, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := exec.QueryRowContext(ctx, query,
		round.EventID,
		round.RoundNumber,
		round.StartDatetime,
		round.EndDatetime,
		round.Status,
	).Scan(&round.ID, &round.CreatedAt)

	return r.handleRoundError(err)
}

func (r *postgresRoundRepository) GetByID(ctx context.Context, id int) (*models.Round, error) {
	return r.getByID(ctx, r.db, id, "")
}

// GetByIDForUpdate читает тур с блокировкой строки внутри транзакции
// (check-then-write последовательности сервисного слоя).
func (r *postgresRoundRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Round, error) {
	return r.getByID(ctx, exec, id, " FOR UPDATE")
}

func (r *postgresRoundRepository) getByID(ctx context.Context, exec SQLExecutor, id int, suffix string) (*models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE id = $1` + suffix

	round := &models.Round{}
	err := scanRound(exec.QueryRowContext(ctx, query, id), round)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to scan round by id %d: %w", id, err)
	}
	return round, nil
}

func (r *postgresRoundRepository) ListByEvent(ctx context.Context, eventID int) ([]*models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE event_id = $1 ORDER BY round_number ASC`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds for event %d: %w", eventID, err)
	}
	defer rows.Close()

	rounds := make([]*models.Round, 0)
	for rows.Next() {
		var round models.Round
		if scanErr := scanRound(rows, &round); scanErr != nil {
			return nil, fmt.Errorf("failed to scan round row: %w", scanErr)
		}
		rounds = append(rounds, &round)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during round rows iteration: %w", err)
	}
	return rounds, nil
}

// ListScheduledBetween возвращает ещё не начатые туры со стартом в окне [from, to).
func (r *postgresRoundRepository) ListScheduledBetween(ctx context.Context, from, to time.Time) ([]*models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds
		WHERE status = 'scheduled' AND start_datetime >= $1 AND start_datetime < $2
		ORDER BY start_datetime ASC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled rounds between %v and %v: %w", from, to, err)
	}
	defer rows.Close()

	rounds := make([]*models.Round, 0)
	for rows.Next() {
		var round models.Round
		if scanErr := scanRound(rows, &round); scanErr != nil {
			return nil, fmt.Errorf("failed to scan round row: %w", scanErr)
		}
		rounds = append(rounds, &round)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during round rows iteration: %w", err)
	}
	return rounds, nil
}

func (r *postgresRoundRepository) Update(ctx context.Context, exec SQLExecutor, round *models.Round) error {
	query := `
		UPDATE rounds
		SET round_number = $1, start_datetime = $2, end_datetime = $3
		WHERE id = $4`

	result, err := exec.ExecContext(ctx, query,
		round.RoundNumber,
		round.StartDatetime,
		round.EndDatetime,
		round.ID,
	)
	if err != nil {
		return r.handleRoundError(err)
	}
	return checkAffectedRows(result, ErrRoundNotFound)
}

func (r *postgresRoundRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.RoundStatus) error {
	query := `UPDATE rounds SET status = $1 WHERE id = $2`

	result, err := exec.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update round %d status: %w", id, err)
	}
	return checkAffectedRows(result, ErrRoundNotFound)
}

func (r *postgresRoundRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	query := `DELETE FROM rounds WHERE id = $1`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete round %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrRoundNotFound)
}

func (r *postgresRoundRepository) handleRoundError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// "23505": unique_violation
		if pqErr.Constraint == "rounds_event_id_round_number_key" {
			return ErrRoundNumberConflict
		}
	}
	return err
}
