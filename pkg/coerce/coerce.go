// Package coerce turns candidate rows into final ordered column/value lists
// ready for parameterized insertion.
//
// Coercion selects the output columns, extracts values by deep field lookup,
// normalizes date/time columns to the canonical UTC "YYYY-MM-DD HH:mm:ss"
// form, fuses configured date+time column pairs, stringifies plain scalars,
// and applies the positional destination-column rename. A value that a
// narrow rule cannot parse fails only that row, not the run.
package coerce

import (
	"sort"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/MarwaAbuEssa/pg-json-import/pkg/config"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/flatten"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/importerrors"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/policy"
)

// timestampFormat is the canonical representation every date/time column is
// coerced to before insertion.
const timestampFormat = "2006-01-02 15:04:05"

// defaultTimestampColumns are treated as timestamps on every table.
var defaultTimestampColumns = []string{
	"createdAt", "updatedAt", "created",
	"startDate", "endDate", "startTime", "endTime",
	"created_at", "updated_at",
}

// timestampLayouts are tried in order for string-valued timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05",
	"15:04",
}

// Statement is one row's final column and value lists. Values are nil or
// strings; nothing nested survives coercion.
type Statement struct {
	Columns []string
	Values  []interface{}
}

// Coercer applies the table's coercion rules to rows. Safe for reuse across
// every row of a run.
type Coercer struct {
	table         string
	pol           policy.TablePolicy
	columns       []string
	destColumns   []string
	tsColumns     map[string]struct{}
	epochDefaults map[string]struct{}
	now           func() time.Time
}

// NewCoercer builds a coercer for the run described by cfg.
func NewCoercer(cfg *config.ImportConfig, pol policy.TablePolicy) *Coercer {
	c := &Coercer{
		table:         cfg.Table,
		pol:           pol,
		columns:       cfg.Columns,
		destColumns:   cfg.DestColumns,
		tsColumns:     make(map[string]struct{}),
		epochDefaults: make(map[string]struct{}),
		now:           time.Now,
	}
	for _, col := range defaultTimestampColumns {
		c.tsColumns[col] = struct{}{}
	}
	for _, col := range pol.TimestampColumns {
		c.tsColumns[col] = struct{}{}
	}
	for _, col := range pol.EpochDefaultColumns {
		c.epochDefaults[col] = struct{}{}
	}
	return c
}

// Coerce produces the insert statement for one row. A nil error with a nil
// statement never occurs; a non-nil error is always row-scoped.
func (c *Coercer) Coerce(row flatten.Row) (*Statement, error) {
	cols := c.selectColumns(row)

	values := make([]interface{}, len(cols))
	times := make(map[int]time.Time, 4)

	for i, col := range cols {
		raw, _ := row.Find(col)
		if _, ok := c.tsColumns[col]; ok {
			t, err := c.coerceTimestamp(col, raw)
			if err != nil {
				return nil, err
			}
			times[i] = t
			continue
		}
		values[i] = stringifyScalar(raw)
	}

	dropped := c.applyCombineRules(cols, times)

	for i, t := range times {
		values[i] = t.UTC().Format(timestampFormat)
	}

	return c.emit(cols, values, dropped), nil
}

// selectColumns returns the configured column list, or the row's own field
// names sorted for a stable output order.
func (c *Coercer) selectColumns(row flatten.Row) []string {
	if len(c.columns) > 0 {
		return c.columns
	}
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// applyCombineRules fuses each configured date+time pair into the date
// column and marks the time column for removal from the output.
func (c *Coercer) applyCombineRules(cols []string, times map[int]time.Time) map[int]bool {
	if len(c.pol.CombineRules) == 0 {
		return nil
	}

	index := make(map[string]int, len(cols))
	for i, col := range cols {
		index[col] = i
	}

	dropped := make(map[int]bool, len(c.pol.CombineRules))
	for _, rule := range c.pol.CombineRules {
		dateIdx, hasDate := index[rule.DateColumn]
		timeIdx, hasTime := index[rule.TimeColumn]
		if !hasDate || !hasTime {
			continue
		}
		date, dateOK := times[dateIdx]
		clock, clockOK := times[timeIdx]
		if !dateOK || !clockOK {
			continue
		}
		times[dateIdx] = time.Date(
			date.Year(), date.Month(), date.Day(),
			clock.Hour(), clock.Minute(), clock.Second(),
			0, time.UTC)
		delete(times, timeIdx)
		dropped[timeIdx] = true
	}
	return dropped
}

// emit assembles the final statement, applying the positional rename and
// skipping columns dropped by combine rules or left unmapped.
func (c *Coercer) emit(cols []string, values []interface{}, dropped map[int]bool) *Statement {
	stmt := &Statement{
		Columns: make([]string, 0, len(cols)),
		Values:  make([]interface{}, 0, len(cols)),
	}
	for i, col := range cols {
		if dropped[i] {
			continue
		}
		name := col
		if len(c.destColumns) > 0 {
			if i >= len(c.destColumns) || c.destColumns[i] == "" {
				continue
			}
			name = c.destColumns[i]
		}
		stmt.Columns = append(stmt.Columns, name)
		stmt.Values = append(stmt.Values, values[i])
	}
	return stmt
}

// coerceTimestamp normalizes one timestamp value to a time.Time.
func (c *Coercer) coerceTimestamp(col string, raw interface{}) (time.Time, error) {
	if raw == nil {
		if _, ok := c.epochDefaults[col]; ok {
			return time.Unix(0, 0).UTC(), nil
		}
		return c.now().UTC(), nil
	}

	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case float64:
		return fromEpoch(v), nil
	case int:
		return fromEpoch(float64(v)), nil
	case int64:
		return fromEpoch(float64(v)), nil
	case gojson.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, c.coercionError(col, raw)
		}
		return fromEpoch(f), nil
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return fromEpoch(f), nil
		}
		return time.Time{}, c.coercionError(col, raw)
	default:
		return time.Time{}, c.coercionError(col, raw)
	}
}

func (c *Coercer) coercionError(col string, raw interface{}) error {
	return importerrors.New(importerrors.ErrorTypeCoercion, "cannot parse timestamp value").
		WithDetail("table", c.table).
		WithDetail("column", col).
		WithDetail("value", raw)
}

// fromEpoch interprets a numeric timestamp as milliseconds since the Unix
// epoch. A value whose millisecond reading lands in 1970 is an
// export in whole seconds and is reinterpreted as such.
func fromEpoch(n float64) time.Time {
	t := time.UnixMilli(int64(n)).UTC()
	if t.Year() == 1970 {
		t = time.Unix(int64(n), 0).UTC()
	}
	return t
}

// stringifyScalar reduces a plain value to nil or an escaped string.
// Empty strings become nil: the target tables reject empty foreign-key
// values. Nested structures are serialized as JSON text.
func stringifyScalar(raw interface{}) interface{} {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return escapeCommas(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case gojson.Number:
		return v.String()
	default:
		data, err := gojson.Marshal(v)
		if err != nil {
			return nil
		}
		return escapeCommas(string(data))
	}
}

// escapeCommas protects literal commas from the insertion formatter.
func escapeCommas(s string) string {
	return strings.ReplaceAll(s, ",", "\\,")
}
