// Package server exposes the HTTP API: health, status, metrics, and the
// admin endpoints that trigger schedule reconciliations.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/stream-herald/schedule"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db     *sql.DB
	engine *schedule.Engine
	// ctx outlives individual requests so admin-triggered runs are not
	// cancelled when the HTTP client disconnects.
	ctx context.Context
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, engine *schedule.Engine) *Handlers {
	return &Handlers{db: db, engine: engine, ctx: ctx}
}
