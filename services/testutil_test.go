package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mary1sa/chess-arena/models"
	"github.com/mary1sa/chess-arena/repositories"
	"github.com/stretchr/testify/require"
)

// Сервисы открывают транзакции через *sql.DB; в тестах за ними стоит
// no-op драйвер, а данные живут в fake-репозиториях.
type noopDriver struct{}

type noopConn struct{}

type noopTx struct{}

func (noopDriver) Open(string) (driver.Conn, error) { return noopConn{}, nil }

func (noopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (noopConn) Close() error                        { return nil }
func (noopConn) Begin() (driver.Tx, error)           { return noopTx{}, nil }

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

var registerDriverOnce sync.Once

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	registerDriverOnce.Do(func() {
		sql.Register("noopdb", noopDriver{})
	})
	db, err := sql.Open("noopdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeRoundRepo struct {
	mu     sync.Mutex
	nextID int
	rounds map[int]*models.Round
}

func newFakeRoundRepo() *fakeRoundRepo {
	return &fakeRoundRepo{nextID: 1, rounds: make(map[int]*models.Round)}
}

func copyRound(r *models.Round) *models.Round {
	cp := *r
	cp.Matches = nil
	return &cp
}

func (f *fakeRoundRepo) Create(_ context.Context, _ repositories.SQLExecutor, round *models.Round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rounds {
		if existing.EventID == round.EventID && existing.RoundNumber == round.RoundNumber {
			return repositories.ErrRoundNumberConflict
		}
	}
	round.ID = f.nextID
	round.CreatedAt = time.Now()
	f.nextID++
	f.rounds[round.ID] = copyRound(round)
	return nil
}

func (f *fakeRoundRepo) GetByID(_ context.Context, id int) (*models.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	round, ok := f.rounds[id]
	if !ok {
		return nil, repositories.ErrRoundNotFound
	}
	return copyRound(round), nil
}

func (f *fakeRoundRepo) GetByIDForUpdate(ctx context.Context, _ repositories.SQLExecutor, id int) (*models.Round, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRoundRepo) ListByEvent(_ context.Context, eventID int) ([]*models.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rounds := make([]*models.Round, 0)
	for _, round := range f.rounds {
		if round.EventID == eventID {
			rounds = append(rounds, copyRound(round))
		}
	}
	return rounds, nil
}

func (f *fakeRoundRepo) ListScheduledBetween(_ context.Context, from, to time.Time) ([]*models.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rounds := make([]*models.Round, 0)
	for _, round := range f.rounds {
		if round.Status != models.RoundStatusScheduled {
			continue
		}
		if !round.StartDatetime.Before(from) && round.StartDatetime.Before(to) {
			rounds = append(rounds, copyRound(round))
		}
	}
	return rounds, nil
}

func (f *fakeRoundRepo) Update(_ context.Context, _ repositories.SQLExecutor, round *models.Round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rounds[round.ID]
	if !ok {
		return repositories.ErrRoundNotFound
	}
	for _, other := range f.rounds {
		if other.ID != round.ID && other.EventID == existing.EventID && other.RoundNumber == round.RoundNumber {
			return repositories.ErrRoundNumberConflict
		}
	}
	existing.RoundNumber = round.RoundNumber
	existing.StartDatetime = round.StartDatetime
	existing.EndDatetime = round.EndDatetime
	return nil
}

func (f *fakeRoundRepo) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id int, status models.RoundStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	round, ok := f.rounds[id]
	if !ok {
		return repositories.ErrRoundNotFound
	}
	round.Status = status
	return nil
}

func (f *fakeRoundRepo) Delete(_ context.Context, _ repositories.SQLExecutor, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rounds[id]; !ok {
		return repositories.ErrRoundNotFound
	}
	delete(f.rounds, id)
	return nil
}

type fakeMatchRepo struct {
	mu      sync.Mutex
	nextID  int
	matches map[int]*models.Match
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{nextID: 1, matches: make(map[int]*models.Match)}
}

func copyMatch(m *models.Match) *models.Match {
	cp := *m
	return &cp
}

func (f *fakeMatchRepo) Create(_ context.Context, _ repositories.SQLExecutor, match *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.matches {
		if existing.RoundID == match.RoundID && existing.TableNumber == match.TableNumber && existing.Status.Live() {
			return repositories.ErrMatchTableConflict
		}
	}
	match.ID = f.nextID
	match.CreatedAt = time.Now()
	f.nextID++
	f.matches[match.ID] = copyMatch(match)
	return nil
}

func (f *fakeMatchRepo) GetByID(_ context.Context, id int) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match, ok := f.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	return copyMatch(match), nil
}

func (f *fakeMatchRepo) GetByIDForUpdate(ctx context.Context, _ repositories.SQLExecutor, id int) (*models.Match, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeMatchRepo) ListByRound(_ context.Context, _ repositories.SQLExecutor, roundID int, statusFilter *models.MatchStatus) ([]*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := make([]*models.Match, 0)
	for _, match := range f.matches {
		if match.RoundID != roundID {
			continue
		}
		if statusFilter != nil && match.Status != *statusFilter {
			continue
		}
		matches = append(matches, copyMatch(match))
	}
	return matches, nil
}

func (f *fakeMatchRepo) Update(_ context.Context, _ repositories.SQLExecutor, match *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.matches[match.ID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	existing.WhitePlayerID = match.WhitePlayerID
	existing.BlackPlayerID = match.BlackPlayerID
	existing.TableNumber = match.TableNumber
	existing.StartDatetime = match.StartDatetime
	existing.EndDatetime = match.EndDatetime
	return nil
}

func (f *fakeMatchRepo) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id int, status models.MatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	match, ok := f.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	match.Status = status
	return nil
}

func (f *fakeMatchRepo) RecordResult(_ context.Context, _ repositories.SQLExecutor, match *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.matches[match.ID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	existing.Status = match.Status
	existing.Result = match.Result
	existing.PGN = match.PGN
	existing.PGNKey = match.PGNKey
	existing.EndDatetime = match.EndDatetime
	return nil
}

func (f *fakeMatchRepo) SetPGNKey(_ context.Context, _ repositories.SQLExecutor, id int, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	match, ok := f.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	match.PGNKey = &key
	return nil
}

func (f *fakeMatchRepo) Delete(_ context.Context, _ repositories.SQLExecutor, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.matches[id]; !ok {
		return repositories.ErrMatchNotFound
	}
	delete(f.matches, id)
	return nil
}

func (f *fakeMatchRepo) HasUnfinishedByRound(_ context.Context, roundID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, match := range f.matches {
		if match.RoundID != roundID {
			continue
		}
		if match.Status == models.MatchStatusScheduled || match.Status == models.MatchStatusInProgress {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMatchRepo) CountHistoryByRound(_ context.Context, _ repositories.SQLExecutor, roundID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, match := range f.matches {
		if match.RoundID != roundID {
			continue
		}
		if match.Status == models.MatchStatusInProgress || match.Status == models.MatchStatusCompleted {
			count++
		}
	}
	return count, nil
}

// testEnv собирает сервисный слой поверх fake-репозиториев.
type testEnv struct {
	roundRepo *fakeRoundRepo
	matchRepo *fakeMatchRepo
	rounds    RoundService
	matches   MatchService
	results   ResultService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbConn := newTestDB(t)
	roundRepo := newFakeRoundRepo()
	matchRepo := newFakeMatchRepo()
	locks := NewKeyedLock()
	pairing := NewPairingValidator(matchRepo)
	logger := newTestLogger()

	results := NewResultService(dbConn, matchRepo, roundRepo, locks, nil, nil, logger)
	rounds := NewRoundService(dbConn, roundRepo, matchRepo, results, locks, nil)
	matches := NewMatchService(dbConn, matchRepo, roundRepo, pairing, locks, nil, nil)

	return &testEnv{
		roundRepo: roundRepo,
		matchRepo: matchRepo,
		rounds:    rounds,
		matches:   matches,
		results:   results,
	}
}

func (e *testEnv) mustCreateRound(t *testing.T, eventID, number int) *models.Round {
	t.Helper()
	round, err := e.rounds.CreateRound(context.Background(), eventID, CreateRoundInput{
		RoundNumber:   number,
		StartDatetime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		EndDatetime:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return round
}

func (e *testEnv) mustCreateMatch(t *testing.T, roundID, white, black, table int) *models.Match {
	t.Helper()
	match, err := e.matches.CreateMatch(context.Background(), roundID, CreateMatchInput{
		WhitePlayerID: white,
		BlackPlayerID: black,
		TableNumber:   table,
		StartDatetime: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return match
}
