package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/closeness/sweeper/internal/config"
	"github.com/closeness/sweeper/internal/db"
	"github.com/closeness/sweeper/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_BadDSN(t *testing.T) {
	assert.Equal(t, 1, verify(context.Background(), "postgres://sweeper@localhost:notaport/sweeper"))
}

func TestVerify_Chain(t *testing.T) {
	dsn := os.Getenv("SWEEPER_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("SWEEPER_TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()
	database, err := db.Connect(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2})
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, database.EnsureSchema(ctx))
	_, err = database.Pool.Exec(ctx, `TRUNCATE cleanup_runs RESTART IDENTITY`)
	require.NoError(t, err)

	now := time.Now().UTC()
	run, err := database.Runs.Record(ctx, &models.CycleReport{
		RunID:      uuid.New(),
		Trigger:    models.TriggerOnce,
		State:      models.CycleStateDone,
		BatchSize:  1,
		Outcome:    models.Outcome{DeletedIDs: []string{"a"}, FailedIDs: []string{}},
		StartedAt:  now,
		FinishedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, verify(ctx, dsn))

	// Editing a recorded outcome breaks the digest check.
	_, err = database.Pool.Exec(ctx, `UPDATE cleanup_runs SET state='failed' WHERE id=$1`, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, verify(ctx, dsn))
}
