// Package postgres wires the tagflow engine to PostgreSQL through pgx's
// database/sql adapter, so callers get a working engine from a DSN without
// choosing a driver themselves.
package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/breakly/tagflow/internal/engine"
	"github.com/breakly/tagflow/pkg/api"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// NewPostgresEngine returns an Engine that persists committed event groups
// in PostgreSQL.
func NewPostgresEngine(db *sql.DB, clock api.VideoClock, lookup api.ParticipantLookup) (api.Engine, error) {
	return engine.NewPostgresEngine(db, clock, lookup)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, clock api.VideoClock, lookup api.ParticipantLookup, obs api.Observer) (api.Engine, error) {
	return engine.NewPostgresEngineWithObserver(db, clock, lookup, obs)
}
