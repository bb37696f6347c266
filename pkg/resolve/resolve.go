// Package resolve validates and repairs foreign-key references on candidate
// rows against reference tables already present in the target store.
//
// Reference tables are read once per run by full scan and held in memory as
// immutable ReferenceSets; rows inserted by other pipelines during the same
// run are deliberately invisible to the checks.
package resolve

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/MarwaAbuEssa/pg-json-import/pkg/config"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/flatten"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/importerrors"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/logger"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/policy"
)

// Querier is the store-read surface the resolver needs. *pgxpool.Pool and
// pgx.Conn both satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ReferenceSet is the immutable in-memory snapshot of one reference table's
// key values, used for membership tests during a single run.
type ReferenceSet struct {
	table  string
	column string
	values map[string]struct{}
}

// NewReferenceSet builds a set from already-known values. Used by tests and
// by callers that source reference data outside the store.
func NewReferenceSet(table, column string, values []string) *ReferenceSet {
	set := &ReferenceSet{
		table:  table,
		column: column,
		values: make(map[string]struct{}, len(values)),
	}
	for _, v := range values {
		set.values[v] = struct{}{}
	}
	return set
}

// Table returns the reference table the set was loaded from.
func (s *ReferenceSet) Table() string { return s.table }

// Len returns the number of distinct values in the set.
func (s *ReferenceSet) Len() int { return len(s.values) }

// Contains reports whether the value is present. Nil is never present.
func (s *ReferenceSet) Contains(value interface{}) bool {
	if value == nil {
		return false
	}
	_, ok := s.values[fmt.Sprint(value)]
	return ok
}

// FetchReferenceSet scans the whole reference table and plucks the given
// column. A failed scan is fatal to the run.
func FetchReferenceSet(ctx context.Context, q Querier, table, column string) (*ReferenceSet, error) {
	ident := pgx.Identifier{table}.Sanitize()
	rows, err := q.Query(ctx, "SELECT * FROM "+ident)
	if err != nil {
		return nil, importerrors.Wrap(err, importerrors.ErrorTypeReference, "failed to scan reference table").
			WithDetail("table", table)
	}
	defer rows.Close()

	columnIdx := -1
	for i, fd := range rows.FieldDescriptions() {
		if fd.Name == column {
			columnIdx = i
			break
		}
	}
	if columnIdx == -1 {
		return nil, importerrors.New(importerrors.ErrorTypeReference, "reference column not found").
			WithDetail("table", table).
			WithDetail("column", column)
	}

	set := &ReferenceSet{
		table:  table,
		column: column,
		values: make(map[string]struct{}),
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, importerrors.Wrap(err, importerrors.ErrorTypeReference, "failed to read reference row").
				WithDetail("table", table)
		}
		if v := values[columnIdx]; v != nil {
			set.values[fmt.Sprint(v)] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, importerrors.Wrap(err, importerrors.ErrorTypeReference, "error iterating reference table").
			WithDetail("table", table)
	}

	logger.Debug("loaded reference set",
		zap.String("table", table),
		zap.String("column", column),
		zap.Int("values", set.Len()))

	return set, nil
}

// Snapshot caches one ReferenceSet per reference table for the duration of a
// run. Sets are fetched at most once and never re-queried mid-run.
type Snapshot struct {
	mu   sync.Mutex
	sets map[string]*ReferenceSet
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{sets: make(map[string]*ReferenceSet)}
}

// Add stores a pre-built set. Used by tests.
func (s *Snapshot) Add(set *ReferenceSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[set.table] = set
}

// Fetch loads the table's set through q unless it is already cached.
func (s *Snapshot) Fetch(ctx context.Context, q Querier, table, column string) (*ReferenceSet, error) {
	s.mu.Lock()
	if set, ok := s.sets[table]; ok {
		s.mu.Unlock()
		return set, nil
	}
	s.mu.Unlock()

	set, err := FetchReferenceSet(ctx, q, table, column)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sets[table] = set
	s.mu.Unlock()
	return set, nil
}

// Get returns the cached set for the table, or nil.
func (s *Snapshot) Get(table string) *ReferenceSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[table]
}

// ReferenceTarget pairs a reference table with the column plucked from it.
type ReferenceTarget struct {
	Table  string
	Column string
}

// ReferenceTargets lists the distinct reference tables a run must load:
// the configured related table plus every table named by the policy's
// repair rules.
func ReferenceTargets(cfg *config.ImportConfig, pol policy.TablePolicy) []ReferenceTarget {
	seen := make(map[string]struct{})
	var targets []ReferenceTarget
	add := func(table, column string) {
		if table == "" || column == "" {
			return
		}
		if _, ok := seen[table]; ok {
			return
		}
		seen[table] = struct{}{}
		targets = append(targets, ReferenceTarget{Table: table, Column: column})
	}

	add(cfg.RelatedTable, cfg.ForeignKeyColumn)
	for _, rule := range pol.Repairs {
		table, column := rule.Table, rule.ReferenceColumn
		if table == "" {
			table = cfg.RelatedTable
		}
		if column == "" {
			column = cfg.ForeignKeyColumn
		}
		add(table, column)
	}
	return targets
}

// Resolver repairs dangling foreign keys on the rows of one table using the
// run's reference snapshot. Every repair stage is idempotent.
type Resolver struct {
	fkColumn     string
	defaultTable string
	pol          policy.TablePolicy
	snapshot     *Snapshot
	rejected     int
}

// NewResolver builds a resolver for the run described by cfg.
func NewResolver(cfg *config.ImportConfig, pol policy.TablePolicy, snapshot *Snapshot) *Resolver {
	return &Resolver{
		fkColumn:     cfg.ForeignKeyColumn,
		defaultTable: cfg.RelatedTable,
		pol:          pol,
		snapshot:     snapshot,
	}
}

// Rejected returns the number of rows dropped for a dangling synthetic
// foreign key across all Repair calls.
func (r *Resolver) Rejected() int { return r.rejected }

// Repair applies every configured repair rule to the rows, then filters
// rows whose synthetic foreign-key column is still dangling. The returned
// slice shares the surviving rows with the input.
func (r *Resolver) Repair(rows []flatten.Row) []flatten.Row {
	for _, rule := range r.pol.Repairs {
		table := rule.Table
		if table == "" {
			table = r.defaultTable
		}
		set := r.snapshot.Get(table)
		if set == nil {
			continue
		}
		for _, row := range rows {
			repairColumn(row, rule, set)
		}
	}

	if r.fkColumn == "" {
		return rows
	}
	set := r.snapshot.Get(r.defaultTable)
	if set == nil {
		return rows
	}

	kept := rows[:0]
	for _, row := range rows {
		value, has := row[r.fkColumn]
		if !has || set.Contains(value) {
			kept = append(kept, row)
			continue
		}
		if r.pol.RejectOnDanglingFK {
			r.rejected++
			continue
		}
		row[r.fkColumn] = nil
		kept = append(kept, row)
	}
	return kept
}

// repairColumn nulls or remaps one dangling foreign-key value in place.
// Values already present in the set are never altered.
func repairColumn(row flatten.Row, rule policy.FKRepair, set *ReferenceSet) {
	value, has := row[rule.Column]
	if !has || set.Contains(value) {
		return
	}

	if rule.FallbackPath != "" {
		if fallback, ok := row.Get(rule.FallbackPath); ok && set.Contains(fallback) {
			row[rule.Column] = fallback
			return
		}
	}
	row[rule.Column] = nil
}
