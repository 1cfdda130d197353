package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mary1sa/chess-arena/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	round := env.mustCreateRound(t, 1, 1)

	match := env.mustCreateMatch(t, round.ID, 10, 20, 1)
	assert.NotZero(t, match.ID)
	assert.Equal(t, models.MatchStatusScheduled, match.Status)
	assert.Nil(t, match.Result)

	t.Run("same player on both sides", func(t *testing.T) {
		_, err := env.matches.CreateMatch(ctx, round.ID, CreateMatchInput{
			WhitePlayerID: 30,
			BlackPlayerID: 30,
			TableNumber:   2,
			StartDatetime: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		})
		assert.ErrorIs(t, err, ErrSamePlayerTwice)
	})

	t.Run("player already paired in the round", func(t *testing.T) {
		_, err := env.matches.CreateMatch(ctx, round.ID, CreateMatchInput{
			WhitePlayerID: 20,
			BlackPlayerID: 30,
			TableNumber:   2,
			StartDatetime: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		})
		assert.ErrorIs(t, err, ErrPlayerDoubleBooked)
	})

	t.Run("table already occupied in the round", func(t *testing.T) {
		_, err := env.matches.CreateMatch(ctx, round.ID, CreateMatchInput{
			WhitePlayerID: 30,
			BlackPlayerID: 40,
			TableNumber:   match.TableNumber,
			StartDatetime: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		})
		assert.ErrorIs(t, err, ErrTableOccupied)
	})

	t.Run("invalid interval", func(t *testing.T) {
		start := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
		end := start.Add(-time.Hour)
		_, err := env.matches.CreateMatch(ctx, round.ID, CreateMatchInput{
			WhitePlayerID: 30,
			BlackPlayerID: 40,
			TableNumber:   2,
			StartDatetime: start,
			EndDatetime:   &end,
		})
		assert.ErrorIs(t, err, ErrInvalidInterval)
	})

	t.Run("non-positive table number", func(t *testing.T) {
		_, err := env.matches.CreateMatch(ctx, round.ID, CreateMatchInput{
			WhitePlayerID: 30,
			BlackPlayerID: 40,
			TableNumber:   0,
			StartDatetime: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		})
		assert.ErrorIs(t, err, ErrInvalidTableNumber)
	})

	t.Run("non-positive player id", func(t *testing.T) {
		_, err := env.matches.CreateMatch(ctx, round.ID, CreateMatchInput{
			WhitePlayerID: -1,
			BlackPlayerID: 40,
			TableNumber:   2,
			StartDatetime: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		})
		assert.ErrorIs(t, err, ErrInvalidPlayerID)
	})

	t.Run("unknown round", func(t *testing.T) {
		_, err := env.matches.CreateMatch(ctx, 9999, CreateMatchInput{
			WhitePlayerID: 30,
			BlackPlayerID: 40,
			TableNumber:   2,
			StartDatetime: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		})
		assert.ErrorIs(t, err, ErrRoundNotFound)
	})

	// Ничего из отклонённого выше не должно было записаться.
	matches, err := env.matches.ListMatchesByRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCancelledMatchReleasesSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	round := env.mustCreateRound(t, 1, 1)

	original := env.mustCreateMatch(t, round.ID, 10, 20, 1)
	cancelled, err := env.matches.CancelMatch(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCancelled, cancelled.Status)

	// Игроки и стол отменённой партии снова свободны.
	replacement := env.mustCreateMatch(t, round.ID, 10, 20, 1)
	assert.NotEqual(t, original.ID, replacement.ID)
}

func TestMatchStateMachine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	round := env.mustCreateRound(t, 1, 1)
	match := env.mustCreateMatch(t, round.ID, 10, 20, 1)

	t.Run("scheduled to in_progress", func(t *testing.T) {
		started, err := env.matches.StartMatch(ctx, match.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusInProgress, started.Status)
	})

	t.Run("double start is rejected", func(t *testing.T) {
		_, err := env.matches.StartMatch(ctx, match.ID)
		assert.ErrorIs(t, err, ErrInvalidMatchTransition)
	})

	t.Run("in_progress can be cancelled", func(t *testing.T) {
		cancelled, err := env.matches.CancelMatch(ctx, match.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusCancelled, cancelled.Status)
	})

	t.Run("cancelled is terminal", func(t *testing.T) {
		_, err := env.matches.StartMatch(ctx, match.ID)
		assert.ErrorIs(t, err, ErrInvalidMatchTransition)

		_, err = env.matches.CancelMatch(ctx, match.ID)
		assert.ErrorIs(t, err, ErrInvalidMatchTransition)
	})

	t.Run("completed cannot be cancelled", func(t *testing.T) {
		other := env.mustCreateMatch(t, round.ID, 30, 40, 2)
		_, err := env.matches.StartMatch(ctx, other.ID)
		require.NoError(t, err)
		_, err = env.results.RecordResult(ctx, other.ID, RecordResultInput{Result: models.ResultDraw})
		require.NoError(t, err)

		_, err = env.matches.CancelMatch(ctx, other.ID)
		assert.ErrorIs(t, err, ErrInvalidMatchTransition)
	})

	t.Run("unknown match", func(t *testing.T) {
		_, err := env.matches.StartMatch(ctx, 9999)
		assert.ErrorIs(t, err, ErrMatchNotFound)
	})
}

func TestUpdateMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	round := env.mustCreateRound(t, 1, 1)

	match := env.mustCreateMatch(t, round.ID, 10, 20, 1)
	neighbor := env.mustCreateMatch(t, round.ID, 30, 40, 2)

	t.Run("swap colours within the same match", func(t *testing.T) {
		white, black := match.BlackPlayerID, match.WhitePlayerID
		updated, err := env.matches.UpdateMatch(ctx, match.ID, UpdateMatchInput{
			WhitePlayerID: &white,
			BlackPlayerID: &black,
		})
		require.NoError(t, err)
		assert.Equal(t, 20, updated.WhitePlayerID)
		assert.Equal(t, 10, updated.BlackPlayerID)
	})

	t.Run("move to an occupied table", func(t *testing.T) {
		taken := neighbor.TableNumber
		_, err := env.matches.UpdateMatch(ctx, match.ID, UpdateMatchInput{TableNumber: &taken})
		assert.ErrorIs(t, err, ErrTableOccupied)
	})

	t.Run("steal a player from another match", func(t *testing.T) {
		poached := neighbor.WhitePlayerID
		_, err := env.matches.UpdateMatch(ctx, match.ID, UpdateMatchInput{BlackPlayerID: &poached})
		assert.ErrorIs(t, err, ErrPlayerDoubleBooked)
	})

	t.Run("reschedule without touching the pairing", func(t *testing.T) {
		newStart := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
		updated, err := env.matches.UpdateMatch(ctx, match.ID, UpdateMatchInput{StartDatetime: &newStart})
		require.NoError(t, err)
		assert.True(t, updated.StartDatetime.Equal(newStart))
	})

	t.Run("cancelled match is locked", func(t *testing.T) {
		_, err := env.matches.CancelMatch(ctx, neighbor.ID)
		require.NoError(t, err)

		table := 5
		_, err = env.matches.UpdateMatch(ctx, neighbor.ID, UpdateMatchInput{TableNumber: &table})
		assert.ErrorIs(t, err, ErrMatchLocked)
	})

	t.Run("completed match is locked", func(t *testing.T) {
		_, err := env.matches.StartMatch(ctx, match.ID)
		require.NoError(t, err)
		_, err = env.results.RecordResult(ctx, match.ID, RecordResultInput{Result: models.ResultBlackWins})
		require.NoError(t, err)

		table := 6
		_, err = env.matches.UpdateMatch(ctx, match.ID, UpdateMatchInput{TableNumber: &table})
		assert.ErrorIs(t, err, ErrMatchLocked)
	})

	t.Run("unknown match", func(t *testing.T) {
		table := 7
		_, err := env.matches.UpdateMatch(ctx, 9999, UpdateMatchInput{TableNumber: &table})
		assert.ErrorIs(t, err, ErrMatchNotFound)
	})
}

func TestDeleteMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	round := env.mustCreateRound(t, 1, 1)

	t.Run("completed match can be deleted", func(t *testing.T) {
		match := env.mustCreateMatch(t, round.ID, 10, 20, 1)
		_, err := env.matches.StartMatch(ctx, match.ID)
		require.NoError(t, err)
		_, err = env.results.RecordResult(ctx, match.ID, RecordResultInput{Result: models.ResultWhiteWins})
		require.NoError(t, err)

		require.NoError(t, env.matches.DeleteMatch(ctx, match.ID))

		_, err = env.matches.GetMatchByID(ctx, match.ID)
		assert.ErrorIs(t, err, ErrMatchNotFound)
	})

	t.Run("unknown match", func(t *testing.T) {
		assert.ErrorIs(t, env.matches.DeleteMatch(ctx, 9999), ErrMatchNotFound)
	})
}

func TestListMatchesByRoundUnknownRound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.matches.ListMatchesByRound(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

// Две конкурентные попытки занять один стол: ровно одна должна выиграть.
func TestCreateMatchConcurrentTableClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	round := env.mustCreateRound(t, 1, 1)

	const attempts = 8
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.matches.CreateMatch(ctx, round.ID, CreateMatchInput{
				WhitePlayerID: 100 + 2*i,
				BlackPlayerID: 101 + 2*i,
				TableNumber:   1,
				StartDatetime: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, ErrTableOccupied)
		}
	}
	assert.Equal(t, 1, created)

	matches, err := env.matches.ListMatchesByRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
