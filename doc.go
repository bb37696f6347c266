// Package pji imports keyed JSON documents into PostgreSQL tables.
//
// A document is an object whose top-level (or configured nested) entries are
// keyed records. The importer streams those entries, flattens each into one
// or more candidate rows, repairs foreign-key references against reference
// tables already present in the target database, coerces date and time
// values to the canonical UTC "YYYY-MM-DD HH:mm:ss" form, and inserts the
// surviving rows into a single table inside one transaction. Either every
// row is committed or the table is left untouched.
//
// # Pipeline
//
// The stages run in a fixed order:
//
//	decode   stream entries out of the JSON document (pkg/decode)
//	flatten  turn entries into rows, optionally expanding a nested child
//	         collection into one row per child with a synthetic foreign
//	         key taken from the JSON keys (pkg/flatten)
//	resolve  repair or reject rows whose foreign keys do not exist in the
//	         reference tables (pkg/resolve)
//	coerce   normalize timestamps and scalars into insert-ready values
//	         (pkg/coerce)
//	load     insert all rows in one transaction (pkg/load)
//
// Table-specific behavior (child shaping, repair fallbacks, timestamp
// conventions) is declared as data in pkg/policy rather than branched on in
// the pipeline.
//
// # Usage
//
// The pji command drives an import from flags or a YAML file:
//
//	pji import -f export.json -c $DATABASE_URL -t users -k user_id
//
// Programmatic use goes through internal/pipeline.Run with a
// config.ImportConfig.
package pji
