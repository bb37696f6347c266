// Package pipeline wires the import stages together and exposes the single
// entry point the CLI calls: run one import with one configuration, get
// back a committed row count or a structured failure.
//
// Stage order is fixed: decode → flatten → resolve → coerce → load. The
// decode stage streams; repair and coercion work on the materialized row
// batch; inserts run sequentially inside the run's single transaction.
package pipeline

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarwaAbuEssa/pg-json-import/pkg/coerce"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/config"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/decode"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/flatten"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/importerrors"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/load"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/logger"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/metrics"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/policy"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/resolve"
)

// Result summarizes a committed import run.
type Result struct {
	// Table is the destination table name
	Table string
	// RowsCommitted is the number of rows visible after commit
	RowsCommitted int
	// RowsRejected counts rows dropped for a dangling foreign key
	RowsRejected int
	// RowsFailedCoercion counts rows excluded by a coercion failure
	RowsFailedCoercion int
}

// store is the database surface the pipeline needs; *pgxpool.Pool
// satisfies it, and tests substitute fakes.
type store interface {
	resolve.Querier
	load.Beginner
}

// Run executes one import. On success every produced row is committed; on
// failure the target table is left exactly as it was.
func Run(ctx context.Context, cfg *config.ImportConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, importerrors.Wrap(err, importerrors.ErrorTypeConfig, "invalid import configuration")
	}

	file, err := os.Open(cfg.File)
	if err != nil {
		return nil, importerrors.Wrap(err, importerrors.ErrorTypeInput, "cannot open input file").
			WithDetail("file", cfg.File)
	}
	// The decoder owns the file handle from here and closes it.

	pool, err := pgxpool.New(ctx, cfg.Connection)
	if err != nil {
		file.Close()
		return nil, importerrors.Wrap(err, importerrors.ErrorTypeConnection, "cannot parse connection string")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		file.Close()
		return nil, importerrors.Wrap(err, importerrors.ErrorTypeConnection, "target store unreachable")
	}

	return run(ctx, cfg, file, pool)
}

// run is the store-agnostic core of Run.
func run(ctx context.Context, cfg *config.ImportConfig, input io.ReadCloser, db store) (*Result, error) {
	pol := policy.ForTable(cfg.Table)
	ctx = context.WithValue(ctx, logger.RunIDKey, newRunID())
	ctx = context.WithValue(ctx, logger.TableKey, cfg.Table)
	log := logger.WithContext(ctx)

	timer := prometheus.NewTimer(metrics.ImportDuration.WithLabelValues(cfg.Table))
	defer timer.ObserveDuration()

	// Decode the document and scan the reference tables concurrently;
	// they touch disjoint resources.
	var rows []flatten.Row
	var entries int64
	snapshot := resolve.NewSnapshot()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, entries, err = collectRows(gctx, cfg, pol, input)
		return err
	})
	for _, target := range resolve.ReferenceTargets(cfg, pol) {
		target := target
		g.Go(func() error {
			_, err := snapshot.Fetch(gctx, db, target.Table, target.Column)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RunsRolledBack.WithLabelValues(cfg.Table).Inc()
		return nil, err
	}

	metrics.EntriesDecoded.WithLabelValues(cfg.Table).Add(float64(entries))
	metrics.RowsFlattened.WithLabelValues(cfg.Table).Add(float64(len(rows)))
	log.Info("loaded JSON document",
		zap.Int64("entries", entries),
		zap.Int("rows", len(rows)))

	resolver := resolve.NewResolver(cfg, pol, snapshot)
	rows = resolver.Repair(rows)
	if rejected := resolver.Rejected(); rejected > 0 {
		metrics.RowsRejected.WithLabelValues(cfg.Table).Add(float64(rejected))
		log.Warn("rejected rows with dangling foreign keys", zap.Int("rows", rejected))
	}

	coercer := coerce.NewCoercer(cfg, pol)
	stmts := make([]*coerce.Statement, 0, len(rows))
	failedCoercion := 0
	for _, row := range rows {
		stmt, err := coercer.Coerce(row)
		if err != nil {
			failedCoercion++
			log.Warn("row excluded by coercion failure", zap.Error(err))
			continue
		}
		stmts = append(stmts, stmt)
	}
	if failedCoercion > 0 {
		metrics.RowsFailedCoercion.WithLabelValues(cfg.Table).Add(float64(failedCoercion))
	}

	tx, err := load.Begin(ctx, db, cfg.Table)
	if err != nil {
		metrics.RunsRolledBack.WithLabelValues(cfg.Table).Inc()
		return nil, err
	}

	committed, err := tx.Load(ctx, stmts)
	if err != nil {
		metrics.RunsRolledBack.WithLabelValues(cfg.Table).Inc()
		return nil, err
	}

	metrics.RowsCommitted.WithLabelValues(cfg.Table).Add(float64(committed))
	log.Info("import committed", zap.Int("rows", committed))

	return &Result{
		Table:              cfg.Table,
		RowsCommitted:      committed,
		RowsRejected:       resolver.Rejected(),
		RowsFailedCoercion: failedCoercion,
	}, nil
}

// newRunID tags one run's log entries. Uniqueness only has to hold across
// the runs of a single process.
func newRunID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

// collectRows drains the decode stream and flattens each entry. The
// returned entry count is the number of decoded top-level entries, which
// equals the row count when no child expansion is configured.
func collectRows(ctx context.Context, cfg *config.ImportConfig, pol policy.TablePolicy, input io.ReadCloser) ([]flatten.Row, int64, error) {
	dec := decode.NewStreamDecoder(input, cfg.Node, cfg.Performance.BufferSize, cfg.Performance.StreamDepth)
	stream := dec.Read(ctx)

	var rows []flatten.Row
	for entry := range stream.Entries {
		rows = append(rows, flatten.Flatten(entry.Key, entry.Value, cfg, pol)...)
	}
	if err := <-stream.Errors; err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, importerrors.Wrap(err, importerrors.ErrorTypeInput, "decode interrupted")
	}
	return rows, dec.EntriesRead(), nil
}
