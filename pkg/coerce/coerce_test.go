package coerce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarwaAbuEssa/pg-json-import/pkg/config"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/flatten"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/importerrors"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/policy"
)

func newTestCoercer(cfg *config.ImportConfig, pol policy.TablePolicy) *Coercer {
	c := NewCoercer(cfg, pol)
	c.now = func() time.Time {
		return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func statementValue(t *testing.T, stmt *Statement, column string) interface{} {
	t.Helper()
	for i, col := range stmt.Columns {
		if col == column {
			return stmt.Values[i]
		}
	}
	t.Fatalf("column %q not in statement %v", column, stmt.Columns)
	return nil
}

func TestTimestampCanonicalization(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"low epoch reinterpreted as seconds", float64(86400), "1970-01-02 00:00:00"},
		{"iso string", "2022-03-01T10:00:00Z", "2022-03-01 10:00:00"},
		{"milliseconds kept as milliseconds", float64(1646130000000), "2022-03-01 10:20:00"},
		{"date only", "2022-03-01", "2022-03-01 00:00:00"},
		{"numeric string", "86400", "1970-01-02 00:00:00"},
	}

	cfg := &config.ImportConfig{Table: "events", Columns: []string{"startDate"}}
	c := newTestCoercer(cfg, policy.DefaultPolicy)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := c.Coerce(flatten.Row{"startDate": tt.input})
			require.NoError(t, err)
			assert.Equal(t, tt.want, statementValue(t, stmt, "startDate"))
		})
	}
}

func TestMissingTimestampDefaultsToNow(t *testing.T) {
	cfg := &config.ImportConfig{Table: "events", Columns: []string{"createdAt"}}
	c := newTestCoercer(cfg, policy.DefaultPolicy)

	stmt, err := c.Coerce(flatten.Row{})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-15 12:00:00", statementValue(t, stmt, "createdAt"))
}

func TestMissingTimestampDefaultsToEpochWhenConfigured(t *testing.T) {
	pol := policy.TablePolicy{EpochDefaultColumns: []string{"created"}}
	cfg := &config.ImportConfig{Table: "classes", Columns: []string{"created"}}
	c := newTestCoercer(cfg, pol)

	stmt, err := c.Coerce(flatten.Row{})
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01 00:00:00", statementValue(t, stmt, "created"))
}

func TestCombineDateAndTimeColumns(t *testing.T) {
	pol := policy.TablePolicy{
		CombineRules: []policy.CombineRule{
			{DateColumn: "startDate", TimeColumn: "startTime"},
			{DateColumn: "endDate", TimeColumn: "endTime"},
		},
	}
	cfg := &config.ImportConfig{
		Table:   "classes",
		Columns: []string{"name", "startDate", "startTime", "endDate", "endTime"},
	}
	c := newTestCoercer(cfg, pol)

	stmt, err := c.Coerce(flatten.Row{
		"name":      "yoga",
		"startDate": "2022-03-01",
		"startTime": "10:30:00",
		"endDate":   "2022-03-01",
		"endTime":   "11:15:00",
	})
	require.NoError(t, err)

	// The raw time-only columns are dropped from the output entirely.
	assert.Equal(t, []string{"name", "startDate", "endDate"}, stmt.Columns)
	assert.Equal(t, "2022-03-01 10:30:00", statementValue(t, stmt, "startDate"))
	assert.Equal(t, "2022-03-01 11:15:00", statementValue(t, stmt, "endDate"))
}

func TestScalarStringification(t *testing.T) {
	cfg := &config.ImportConfig{Table: "people", Columns: []string{"note", "age", "active", "missing", "blank"}}
	c := newTestCoercer(cfg, policy.DefaultPolicy)

	stmt, err := c.Coerce(flatten.Row{
		"note":   "hello, world",
		"age":    float64(5),
		"active": true,
		"blank":  "",
	})
	require.NoError(t, err)

	assert.Equal(t, `hello\, world`, statementValue(t, stmt, "note"))
	assert.Equal(t, "5", statementValue(t, stmt, "age"))
	assert.Equal(t, "true", statementValue(t, stmt, "active"))
	assert.Nil(t, statementValue(t, stmt, "missing"))
	assert.Nil(t, statementValue(t, stmt, "blank"), "empty strings become null")
}

func TestDeepValueLookup(t *testing.T) {
	cfg := &config.ImportConfig{Table: "studios", Columns: []string{"studio_owner"}}
	c := newTestCoercer(cfg, policy.DefaultPolicy)

	stmt, err := c.Coerce(flatten.Row{
		"settings": map[string]interface{}{"studio_owner": "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "y", statementValue(t, stmt, "studio_owner"))
}

func TestPositionalDestinationMapping(t *testing.T) {
	cfg := &config.ImportConfig{
		Table:       "people",
		Columns:     []string{"name", "city", "extra"},
		DestColumns: []string{"full_name", "home_city"},
	}
	c := newTestCoercer(cfg, policy.DefaultPolicy)

	stmt, err := c.Coerce(flatten.Row{"name": "Ann", "city": "Cairo", "extra": "x"})
	require.NoError(t, err)

	// "extra" has no mapping entry and is dropped, not left unmapped.
	assert.Equal(t, []string{"full_name", "home_city"}, stmt.Columns)
	assert.Equal(t, []interface{}{"Ann", "Cairo"}, stmt.Values)
}

func TestDefaultColumnsAreRowFieldsSorted(t *testing.T) {
	cfg := &config.ImportConfig{Table: "people"}
	c := newTestCoercer(cfg, policy.DefaultPolicy)

	stmt, err := c.Coerce(flatten.Row{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stmt.Columns)
}

func TestUnparseableTimestampIsRowScopedError(t *testing.T) {
	cfg := &config.ImportConfig{Table: "events", Columns: []string{"createdAt"}}
	c := newTestCoercer(cfg, policy.DefaultPolicy)

	_, err := c.Coerce(flatten.Row{"createdAt": "not a date"})
	require.Error(t, err)
	assert.True(t, importerrors.IsType(err, importerrors.ErrorTypeCoercion))
	assert.False(t, importerrors.IsFatal(err))
}

func TestNestedStructureSerializedAsJSON(t *testing.T) {
	cfg := &config.ImportConfig{Table: "people", Columns: []string{"tags"}}
	c := newTestCoercer(cfg, policy.DefaultPolicy)

	stmt, err := c.Coerce(flatten.Row{"tags": []interface{}{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, `["a"\,"b"]`, statementValue(t, stmt, "tags"))
}
