// Package migrations embeds the relational schema shared by every component.
package migrations

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"crm-platform/pkg/utils"
)

//go:embed schema.sql
var Schema string

// Apply creates missing tables and indexes.
func Apply(ctx context.Context, db *sql.DB) error {
	return utils.ExecScript(ctx, db, Schema, 30*time.Second)
}
