package shared

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.CommandTag{}, f.err
}

func TestCheckAndInsertMapsUniqueViolation(t *testing.T) {
	store := &IdempotencyStore{db: &fakeExecer{err: &pgconn.PgError{Code: "23505"}}}

	err := store.CheckAndInsert(context.Background(), 1, "abc", "documents.convert")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrConflict)
}

func TestCheckAndInsertRequiresKeyAndModule(t *testing.T) {
	store := &IdempotencyStore{db: &fakeExecer{}}

	require.Error(t, store.CheckAndInsert(context.Background(), 1, "", "documents.convert"))
	require.Error(t, store.CheckAndInsert(context.Background(), 1, "abc", ""))
}

func TestDeleteScopedToModule(t *testing.T) {
	fake := &fakeExecer{}
	store := &IdempotencyStore{db: fake}

	require.NoError(t, store.Delete(context.Background(), 1, "abc", "documents.convert"))
	require.Contains(t, fake.sql, "module=$3")
	require.Equal(t, []any{int64(1), "abc", "documents.convert"}, fake.args)

	require.Error(t, store.Delete(context.Background(), 1, "abc", ""))
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *IdempotencyStore
	require.NoError(t, store.Delete(context.Background(), 1, "abc", "documents.convert"))
	require.NoError(t, store.Cleanup(context.Background(), 0))
	require.Error(t, store.CheckAndInsert(context.Background(), 1, "abc", "documents.convert"))
}
