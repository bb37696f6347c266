package load

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarwaAbuEssa/pg-json-import/pkg/coerce"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/importerrors"
)

// fakeTx records every statement and can be told to fail the nth exec.
type fakeTx struct {
	execs      []string
	args       [][]any
	failAt     int // 1-based; 0 = never fail
	failWith   error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	t.args = append(t.args, args)
	if t.failAt > 0 && len(t.execs) == t.failAt {
		err := t.failWith
		if err == nil {
			err = errors.New("exec failed")
		}
		return pgconn.CommandTag{}, err
	}
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func statements(n int) []*coerce.Statement {
	stmts := make([]*coerce.Statement, n)
	for i := range stmts {
		stmts[i] = &coerce.Statement{
			Columns: []string{"name", "city"},
			Values:  []interface{}{"Ann", nil},
		}
	}
	return stmts
}

func TestLoadCommitsAllRows(t *testing.T) {
	tx := &fakeTx{}
	it := NewImportTransaction(tx, "people")

	committed, err := it.Load(context.Background(), statements(3))

	require.NoError(t, err)
	assert.Equal(t, 3, committed)
	assert.Equal(t, StateCommitted, it.State())
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	require.Len(t, tx.execs, 3)
	assert.Equal(t, `INSERT INTO "people" ("name", "city") VALUES ($1, $2)`, tx.execs[0])
	assert.Equal(t, []any{"Ann", nil}, tx.args[0])
}

func TestLoadRollsBackWholeBatchOnFailure(t *testing.T) {
	tx := &fakeTx{failAt: 2}
	it := NewImportTransaction(tx, "people")

	committed, err := it.Load(context.Background(), statements(5))

	require.Error(t, err)
	assert.Equal(t, 0, committed)
	assert.Equal(t, StateRolledBack, it.State())
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
	// No insert runs after the failure.
	assert.Len(t, tx.execs, 2)

	var ie *importerrors.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "people", ie.Details["table"])
	assert.Equal(t, 2, ie.Details["rows_attempted"])
}

func TestConstraintViolationIsClassified(t *testing.T) {
	tx := &fakeTx{failAt: 1, failWith: &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}}
	it := NewImportTransaction(tx, "people")

	_, err := it.Load(context.Background(), statements(1))

	require.Error(t, err)
	assert.True(t, importerrors.IsType(err, importerrors.ErrorTypeConstraint))
}

func TestOtherDriverErrorsAreNotConstraintErrors(t *testing.T) {
	tx := &fakeTx{failAt: 1, failWith: &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}}
	it := NewImportTransaction(tx, "people")

	_, err := it.Load(context.Background(), statements(1))

	require.Error(t, err)
	assert.True(t, importerrors.IsType(err, importerrors.ErrorTypeQuery))
}

func TestInsertAfterTerminalStateFails(t *testing.T) {
	tx := &fakeTx{}
	it := NewImportTransaction(tx, "people")

	_, err := it.Commit(context.Background())
	require.NoError(t, err)

	err = it.Insert(context.Background(), statements(1)[0])
	require.Error(t, err)
	assert.True(t, importerrors.IsType(err, importerrors.ErrorTypeQuery))
}

func TestRollbackAfterCommitIsNoop(t *testing.T) {
	tx := &fakeTx{}
	it := NewImportTransaction(tx, "people")

	_, err := it.Commit(context.Background())
	require.NoError(t, err)

	require.NoError(t, it.Rollback(context.Background()))
	assert.Equal(t, StateCommitted, it.State())
	assert.False(t, tx.rolledBack)
}

func TestStateMachine(t *testing.T) {
	tx := &fakeTx{}
	it := NewImportTransaction(tx, "people")
	assert.Equal(t, StatePending, it.State())

	require.NoError(t, it.Insert(context.Background(), statements(1)[0]))
	assert.Equal(t, StateInserting, it.State())
	assert.Equal(t, 1, it.Attempted())

	committed, err := it.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, committed)
	assert.Equal(t, StateCommitted, it.State())
}

func TestBuildInsertQuotesIdentifiers(t *testing.T) {
	sql := buildInsert(`weird"table`, []string{"col"})
	assert.Equal(t, `INSERT INTO "weird""table" ("col") VALUES ($1)`, sql)
}
