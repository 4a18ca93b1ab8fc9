package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/breakly/tagflow/pkg/api"
)

// PostgresGroupStore is a GroupStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresGroupStore struct {
	db *sql.DB
}

// Ensure PostgresGroupStore implements GroupStore.
var _ GroupStore = (*PostgresGroupStore)(nil)

// NewPostgresGroupStore initializes the required schema in the given
// database and returns a new PostgresGroupStore.
func NewPostgresGroupStore(db *sql.DB) (*PostgresGroupStore, error) {
	s := &PostgresGroupStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresGroupStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS event_groups (
			id TEXT PRIMARY KEY,
			breakdown_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL DEFAULT '',
			video_timestamp DOUBLE PRECISION NOT NULL,
			game_clock_timestamp DOUBLE PRECISION,
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			deleted_at BIGINT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_event_groups_idem
			ON event_groups(idempotency_key) WHERE idempotency_key <> '';
		CREATE INDEX IF NOT EXISTS idx_event_groups_breakdown
			ON event_groups(breakdown_id);

		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL REFERENCES event_groups(id),
			event_type_id TEXT NOT NULL,
			player_id TEXT NOT NULL DEFAULT '',
			team_id TEXT NOT NULL DEFAULT '',
			seq INTEGER NOT NULL DEFAULT 0,
			video_timestamp DOUBLE PRECISION NOT NULL,
			game_clock_timestamp DOUBLE PRECISION,
			metadata BYTEA,
			deleted_at BIGINT
		);
		CREATE INDEX IF NOT EXISTS idx_events_group ON events(group_id);
	`)
	return err
}

func (s *PostgresGroupStore) CreateGroup(ctx context.Context, g *api.EventGroup, idempotencyKey string) (*api.EventGroup, error) {
	if idempotencyKey != "" {
		if existing, err := s.groupByIdempotencyKey(ctx, idempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrGroupNotFound) {
			return nil, err
		}
	}

	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_groups (id, breakdown_id, workflow_id, video_timestamp, game_clock_timestamp, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID,
		g.BreakdownID,
		g.WorkflowID,
		g.VideoTimestamp,
		nullFloat(g.GameClockTimestamp),
		idempotencyKey,
		createdAt.UnixNano(),
	)
	if err != nil {
		if idempotencyKey != "" {
			if existing, lookupErr := s.groupByIdempotencyKey(ctx, idempotencyKey); lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	for i := range g.Events {
		ev := &g.Events[i]
		metadata, err := encodeMetadata(ev.Metadata)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, group_id, event_type_id, player_id, team_id, seq, video_timestamp, game_clock_timestamp, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			ev.ID,
			g.ID,
			ev.EventTypeID,
			ev.PlayerID,
			ev.TeamID,
			i,
			ev.VideoTimestamp,
			nullFloat(ev.GameClockTimestamp),
			metadata,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetGroup(ctx, g.ID)
}

func (s *PostgresGroupStore) groupByIdempotencyKey(ctx context.Context, key string) (*api.EventGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM event_groups WHERE idempotency_key = $1 AND deleted_at IS NULL`, key)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return s.GetGroup(ctx, id)
}

func (s *PostgresGroupStore) GetGroup(ctx context.Context, id string) (*api.EventGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, breakdown_id, workflow_id, video_timestamp, game_clock_timestamp, created_at
		FROM event_groups
		WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)

	g, err := scanGroup(row)
	if err != nil {
		return nil, err
	}

	events, err := s.eventsForGroup(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	g.Events = events

	return g, nil
}

func (s *PostgresGroupStore) ListGroups(ctx context.Context, filter GroupFilter) ([]*api.EventGroup, error) {
	query := `
		SELECT id, breakdown_id, workflow_id, video_timestamp, game_clock_timestamp, created_at
		FROM event_groups`
	clauses := []string{"deleted_at IS NULL"}
	var args []any

	if filter.BreakdownID != "" {
		args = append(args, filter.BreakdownID)
		clauses = append(clauses, fmt.Sprintf("breakdown_id = $%d", len(args)))
	}
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		clauses = append(clauses, fmt.Sprintf("workflow_id = $%d", len(args)))
	}

	query = query + " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*api.EventGroup

	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range groups {
		events, err := s.eventsForGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		g.Events = events
	}

	return groups, nil
}

func (s *PostgresGroupStore) PatchGroup(ctx context.Context, id string, patch api.GroupPatch) (*api.EventGroup, error) {
	var sets []string
	var args []any

	if patch.VideoTimestamp != nil {
		args = append(args, *patch.VideoTimestamp)
		sets = append(sets, fmt.Sprintf("video_timestamp = $%d", len(args)))
	}
	if patch.GameClockTimestamp != nil {
		args = append(args, *patch.GameClockTimestamp)
		sets = append(sets, fmt.Sprintf("game_clock_timestamp = $%d", len(args)))
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE event_groups SET %s WHERE id = $%d AND deleted_at IS NULL",
				strings.Join(sets, ", "), len(args)),
			args...,
		)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, ErrGroupNotFound
		}
	}

	return s.GetGroup(ctx, id)
}

func (s *PostgresGroupStore) PatchEvent(ctx context.Context, eventID string, patch api.EventPatch) (*api.Event, error) {
	var sets []string
	var args []any

	if patch.PlayerID != nil {
		args = append(args, *patch.PlayerID)
		sets = append(sets, fmt.Sprintf("player_id = $%d", len(args)))
	}
	if patch.TeamID != nil {
		args = append(args, *patch.TeamID)
		sets = append(sets, fmt.Sprintf("team_id = $%d", len(args)))
	}
	if patch.VideoTimestamp != nil {
		args = append(args, *patch.VideoTimestamp)
		sets = append(sets, fmt.Sprintf("video_timestamp = $%d", len(args)))
	}
	if patch.GameClockTimestamp != nil {
		args = append(args, *patch.GameClockTimestamp)
		sets = append(sets, fmt.Sprintf("game_clock_timestamp = $%d", len(args)))
	}

	if len(sets) > 0 {
		args = append(args, eventID)
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE events SET %s WHERE id = $%d AND deleted_at IS NULL",
				strings.Join(sets, ", "), len(args)),
			args...,
		)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, ErrEventNotFound
		}
	}

	return s.getEvent(ctx, eventID)
}

func (s *PostgresGroupStore) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixNano()

	res, err := tx.ExecContext(ctx,
		`UPDATE event_groups SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrGroupNotFound
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE events SET deleted_at = $1 WHERE group_id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresGroupStore) eventsForGroup(ctx context.Context, groupID string) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, event_type_id, player_id, team_id, video_timestamp, game_clock_timestamp, metadata
		FROM events
		WHERE group_id = $1 AND deleted_at IS NULL
		ORDER BY seq ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []api.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func (s *PostgresGroupStore) getEvent(ctx context.Context, id string) (*api.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, event_type_id, player_id, team_id, video_timestamp, game_clock_timestamp, metadata
		FROM events
		WHERE id = $1 AND deleted_at IS NULL`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return ev, nil
}
