package db

import (
	"context"
	_ "embed"
)

// Schema creates the tables the queries run against. It is idempotent.
//
//go:embed schema.sql
var Schema string

// Migrate applies Schema.
func Migrate(ctx context.Context, conn DBTX) error {
	_, err := conn.Exec(ctx, Schema)
	return err
}
