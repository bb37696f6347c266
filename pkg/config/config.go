// Package config provides the configuration surface for an import run.
// The CLI layer (or any other caller) fills an ImportConfig, validates it,
// and hands it to the pipeline. The core never reads flags or the
// environment itself.
package config

import (
	"fmt"
)

// ImportConfig describes one import run: where the JSON comes from, which
// table it lands in, and how nested child collections and column mappings
// are handled.
type ImportConfig struct {
	// File is the path of the JSON document to import
	File string `yaml:"file" json:"file"`
	// Connection is the PostgreSQL connection string for the target store
	Connection string `yaml:"connection" json:"connection"`
	// Table is the destination table name
	Table string `yaml:"table" json:"table"`
	// Node selects the JSON root collection (empty or "$" = document root)
	Node string `yaml:"node" json:"node"`
	// KeyColumn is the primary-key column filled from each entry's JSON key
	KeyColumn string `yaml:"key" json:"key"`

	// RelatedTable names both the nested child-collection field on each
	// entry and the already-imported reference table its keys are checked
	// against. Empty disables child expansion.
	RelatedTable string `yaml:"related_table" json:"related_table"`
	// ForeignKeyColumn is the synthetic column filled from each child's
	// JSON key during expansion
	ForeignKeyColumn string `yaml:"foreign_key" json:"foreign_key"`

	// Columns restricts which fields become output columns. Empty means
	// every field of the row.
	Columns []string `yaml:"columns" json:"columns"`
	// DestColumns renames output columns positionally (index i of the
	// selected columns becomes DestColumns[i]). Selected columns beyond
	// the mapping are dropped from the output.
	DestColumns []string `yaml:"database_columns" json:"database_columns"`

	// Performance tuning for the decode stage
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
}

// PerformanceConfig contains decode-stage tuning knobs.
type PerformanceConfig struct {
	// BufferSize sets the read buffer size in bytes
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// StreamDepth sets the entry channel capacity between the decoder
	// goroutine and the flattening stage
	StreamDepth int `yaml:"stream_depth" json:"stream_depth"`
}

// NewImportConfig creates an ImportConfig with sensible defaults.
func NewImportConfig() *ImportConfig {
	return &ImportConfig{
		Performance: PerformanceConfig{
			BufferSize:  64 * 1024,
			StreamDepth: 100,
		},
	}
}

// Validate checks that every field the core depends on is present.
// It mirrors the preconditions the CLI layer promises to uphold.
func (c *ImportConfig) Validate() error {
	if c.File == "" {
		return fmt.Errorf("file is required")
	}
	if c.Connection == "" {
		return fmt.Errorf("connection is required")
	}
	if c.Table == "" {
		return fmt.Errorf("table is required")
	}
	if c.KeyColumn == "" {
		return fmt.Errorf("key is required")
	}
	if c.RelatedTable != "" && c.ForeignKeyColumn == "" {
		return fmt.Errorf("foreign_key is required when related_table is set")
	}
	if len(c.DestColumns) > 0 && len(c.Columns) == 0 {
		return fmt.Errorf("database_columns requires an explicit columns list")
	}
	return nil
}

// ExpandsChildren reports whether nested child-collection expansion is on.
func (c *ImportConfig) ExpandsChildren() bool {
	return c.RelatedTable != ""
}
