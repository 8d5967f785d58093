package repository

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// SchemaStatements splits the embedded schema into single statements so it
// can run on connections without multiStatements enabled.
func SchemaStatements() []string {
	parts := strings.Split(schemaSQL, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func ApplySchema(ctx context.Context, db DBTX) error {
	for i, stmt := range SchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
