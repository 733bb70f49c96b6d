package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalledQuerier simulates an exhausted pool: every call blocks until its
// context expires.
type stalledQuerier struct{}

func (stalledQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledQuerier) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledQuerier) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (stalledQuerier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledQuerier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledQuerier) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBoundedQuerierFailsFastOnExhaustedPool(t *testing.T) {
	db := &DB{acquireTimeout: 20 * time.Millisecond}
	bq := &boundedQuerier{db: db, q: stalledQuerier{}}

	start := time.Now()
	_, err := bq.ExecContext(context.Background(), "INSERT INTO rollup_buckets DEFAULT VALUES")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second, "acquisition wait must be bounded, not open ended")
}

func TestBoundedQuerierBoundsEveryMaterializingCall(t *testing.T) {
	db := &DB{acquireTimeout: 20 * time.Millisecond}
	bq := &boundedQuerier{db: db, q: stalledQuerier{}}
	ctx := context.Background()

	var dest []string
	assert.ErrorIs(t, bq.GetContext(ctx, &dest, "SELECT 1"), context.DeadlineExceeded)
	assert.ErrorIs(t, bq.SelectContext(ctx, &dest, "SELECT 1"), context.DeadlineExceeded)
	_, err := bq.NamedExecContext(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetQuerierAppliesBoundOnlyWhenConfigured(t *testing.T) {
	bounded := &DB{acquireTimeout: time.Second}
	_, ok := bounded.GetQuerier(context.Background()).(*boundedQuerier)
	assert.True(t, ok)

	unbounded := &DB{}
	_, ok = unbounded.GetQuerier(context.Background()).(*boundedQuerier)
	assert.False(t, ok)
}
