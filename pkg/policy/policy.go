// Package policy declares the per-table import rules as data.
//
// A handful of known tables carry their own flattening shape, foreign-key
// repair rules, and timestamp conventions. Rather than branching on table names inside the pipeline,
// every table-dependent decision lives in a TablePolicy record looked up
// once per run. Unknown tables get DefaultPolicy.
package policy

// ChildShaping selects how an expanded child entry is merged into its
// parent's row.
type ChildShaping string

const (
	// ShapeMerge combines the parent's fields with the child's fields.
	// A scalar child value degrades to the key/value pair alone.
	ShapeMerge ChildShaping = "merge"
	// ShapeKeyValue maps the child key and value directly onto two fixed
	// columns without merging the child's own fields
	ShapeKeyValue ChildShaping = "key_value"
)

// FKRepair describes how one foreign-key column is repaired when its value
// is absent from the reference set.
type FKRepair struct {
	// Column is the foreign-key column to check
	Column string
	// Table names the reference table the column is checked against.
	// Empty means the run's configured related table.
	Table string
	// ReferenceColumn names the column plucked from the reference table.
	// Empty means the run's configured synthetic foreign-key column.
	ReferenceColumn string
	// FallbackPath, when non-empty, names a dotted path into the row whose
	// value is substituted if it is itself present in the reference set.
	// Empty means the dangling value is nulled.
	FallbackPath string
}

// CombineRule fuses a date-bearing column with a time-of-day column into a
// single timestamp stored under DateColumn. TimeColumn is dropped from the
// output afterwards.
type CombineRule struct {
	DateColumn string
	TimeColumn string
}

// TablePolicy is the full set of table-specific rules consulted by the
// flattening, repair, and coercion stages.
type TablePolicy struct {
	// ChildShaping selects the child-expansion merge behavior
	ChildShaping ChildShaping
	// ScalarValueColumn receives a scalar child value (or, under
	// ShapeKeyValue, the whole child value)
	ScalarValueColumn string
	// EmitParentWithoutChildren keeps a standalone parent row when the
	// child collection is absent instead of dropping the entry
	EmitParentWithoutChildren bool

	// Repairs lists the foreign-key columns checked against the reference
	// set, with their repair rule
	Repairs []FKRepair
	// RejectOnDanglingFK drops the whole row when the configured synthetic
	// foreign-key column itself is absent from the reference set
	RejectOnDanglingFK bool

	// TimestampColumns adds table-specific columns to the global timestamp
	// column list
	TimestampColumns []string
	// EpochDefaultColumns enumerates timestamp columns that default to the
	// Unix epoch instead of the current time when the value is missing
	EpochDefaultColumns []string
	// CombineRules lists the date+time column pairs fused during coercion
	CombineRules []CombineRule
}

// DefaultPolicy is applied to tables with no registered policy: plain merge
// shaping, null repair for the synthetic foreign key only, and the global
// timestamp conventions.
var DefaultPolicy = TablePolicy{
	ChildShaping:       ShapeMerge,
	ScalarValueColumn:  "value",
	RejectOnDanglingFK: true,
}

// registry holds the policies for the known tables of the studio data set.
var registry = map[string]TablePolicy{
	// Studio rows carry inviter/approver references into users that are
	// frequently stale in exports; both fall back to the studio owner
	// recorded under settings.
	"studios": {
		ChildShaping:      ShapeMerge,
		ScalarValueColumn: "value",
		Repairs: []FKRepair{
			{Column: "invited_by", FallbackPath: "settings.studio_owner"},
			{Column: "approved_by", FallbackPath: "settings.studio_owner"},
		},
		RejectOnDanglingFK: true,
	},
	// Class schedules split calendar dates and clock times across column
	// pairs; they are fused into single timestamps on the date columns.
	"classes": {
		ChildShaping:      ShapeMerge,
		ScalarValueColumn: "value",
		Repairs: []FKRepair{
			{Column: "teacher_id", Table: "users", ReferenceColumn: "user_id"},
		},
		RejectOnDanglingFK: true,
		CombineRules: []CombineRule{
			{DateColumn: "startDate", TimeColumn: "startTime"},
			{DateColumn: "endDate", TimeColumn: "endTime"},
		},
		EpochDefaultColumns: []string{"created"},
	},
	// The studio/user membership relation stores the child entry as a bare
	// key→role pair, so the child value lands in a fixed column instead of
	// being merged.
	"studio_users": {
		ChildShaping:       ShapeKeyValue,
		ScalarValueColumn:  "role",
		RejectOnDanglingFK: true,
	},
	// User exports predate the created_at column; missing values get the
	// epoch rather than the import time so they sort before real signups.
	"users": {
		ChildShaping:              ShapeMerge,
		ScalarValueColumn:         "value",
		EmitParentWithoutChildren: true,
		EpochDefaultColumns:       []string{"created_at"},
		RejectOnDanglingFK:        true,
	},
}

// ForTable returns the policy registered for the table, or DefaultPolicy.
func ForTable(name string) TablePolicy {
	if p, ok := registry[name]; ok {
		return p
	}
	return DefaultPolicy
}

// Register installs or replaces the policy for a table. Intended for tests
// and for callers wiring custom data sets.
func Register(name string, p TablePolicy) {
	registry[name] = p
}
