// Package load inserts coerced rows into the target table inside a single
// all-or-nothing transaction.
//
// The ImportTransaction exclusively owns the transaction handle for the
// run's lifetime; no other component may commit or roll it back. Any insert
// failure rolls the whole run back. There are no retries: a failed run is
// re-invoked from scratch.
package load

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/MarwaAbuEssa/pg-json-import/pkg/coerce"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/importerrors"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/logger"
)

// State is the transaction lifecycle state.
type State string

const (
	// StatePending means the transaction is open and no insert has run yet
	StatePending State = "pending"
	// StateInserting means at least one insert has executed
	StateInserting State = "inserting"
	// StateCommitted is terminal: every row is visible in the target table
	StateCommitted State = "committed"
	// StateRolledBack is terminal: the target table is untouched
	StateRolledBack State = "rolled_back"
)

// Tx is the transaction surface the loader needs. pgx.Tx satisfies it.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner opens transactions. *pgxpool.Pool and *pgx.Conn satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ImportTransaction is the unit of work for one run.
type ImportTransaction struct {
	tx        Tx
	table     string
	state     State
	attempted int
}

// Begin opens the run's transaction against the store.
func Begin(ctx context.Context, db Beginner, table string) (*ImportTransaction, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, importerrors.Wrap(err, importerrors.ErrorTypeConnection, "failed to begin transaction").
			WithDetail("table", table)
	}
	return NewImportTransaction(tx, table), nil
}

// NewImportTransaction wraps an already-open transaction. Used by Begin and
// by tests.
func NewImportTransaction(tx Tx, table string) *ImportTransaction {
	return &ImportTransaction{
		tx:    tx,
		table: table,
		state: StatePending,
	}
}

// State returns the current lifecycle state.
func (t *ImportTransaction) State() State { return t.state }

// Attempted returns the number of inserts attempted so far.
func (t *ImportTransaction) Attempted() int { return t.attempted }

// Insert executes one parameterized insert for the statement. The first
// failure rolls the whole transaction back and is returned classified.
func (t *ImportTransaction) Insert(ctx context.Context, stmt *coerce.Statement) error {
	if t.state == StateCommitted || t.state == StateRolledBack {
		return importerrors.New(importerrors.ErrorTypeQuery, "transaction already closed").
			WithDetail("state", string(t.state))
	}

	t.state = StateInserting
	t.attempted++

	sql := buildInsert(t.table, stmt.Columns)
	if _, err := t.tx.Exec(ctx, sql, stmt.Values...); err != nil {
		rollbackErr := t.Rollback(ctx)
		insertErr := classifyInsertError(err).
			WithDetail("table", t.table).
			WithDetail("rows_attempted", t.attempted)
		if rollbackErr != nil {
			logger.Error("rollback failed after insert error",
				zap.String("table", t.table),
				zap.Error(rollbackErr))
		}
		return insertErr
	}
	return nil
}

// Commit makes every inserted row visible and reports the committed count.
func (t *ImportTransaction) Commit(ctx context.Context) (int, error) {
	if t.state == StateCommitted || t.state == StateRolledBack {
		return 0, importerrors.New(importerrors.ErrorTypeQuery, "transaction already closed").
			WithDetail("state", string(t.state))
	}
	if err := t.tx.Commit(ctx); err != nil {
		_ = t.Rollback(ctx)
		return 0, importerrors.Wrap(err, importerrors.ErrorTypeConnection, "failed to commit transaction").
			WithDetail("table", t.table).
			WithDetail("rows_attempted", t.attempted)
	}
	t.state = StateCommitted
	return t.attempted, nil
}

// Rollback reverts the run. Safe to call from a deferred cleanup path after
// Commit: a closed transaction stays in its terminal state.
func (t *ImportTransaction) Rollback(ctx context.Context) error {
	if t.state == StateCommitted || t.state == StateRolledBack {
		return nil
	}
	t.state = StateRolledBack
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return importerrors.Wrap(err, importerrors.ErrorTypeConnection, "failed to roll back transaction").
			WithDetail("table", t.table)
	}
	return nil
}

// Load runs the whole batch: one insert per statement, then commit. Any
// failure leaves the table untouched.
func (t *ImportTransaction) Load(ctx context.Context, stmts []*coerce.Statement) (int, error) {
	for _, stmt := range stmts {
		if err := t.Insert(ctx, stmt); err != nil {
			return 0, err
		}
	}
	return t.Commit(ctx)
}

// buildInsert renders "INSERT INTO t (c1, c2) VALUES ($1, $2)" with
// sanitized identifiers. Values always travel as parameters, never as SQL
// text.
func buildInsert(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	b.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{col}.Sanitize())
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(i + 1))
	}
	b.WriteByte(')')
	return b.String()
}

// classifyInsertError maps a driver error onto the import error taxonomy.
// Integrity violations (SQLSTATE class 23) are constraint errors; anything
// else surfaces as a query or connection failure.
func classifyInsertError(err error) *importerrors.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "23") {
			return importerrors.Wrap(err, importerrors.ErrorTypeConstraint, "insert violates a database constraint")
		}
		return importerrors.Wrap(err, importerrors.ErrorTypeQuery, "insert failed")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return importerrors.Wrap(err, importerrors.ErrorTypeConnection, "insert interrupted")
	}
	return importerrors.Wrap(err, importerrors.ErrorTypeConnection, "insert failed")
}
