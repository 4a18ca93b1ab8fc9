package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/breakly/tagflow/pkg/api"
)

// SQLiteGroupStore is a GroupStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteGroupStore struct {
	db *sql.DB
}

// Ensure SQLiteGroupStore implements GroupStore.
var _ GroupStore = (*SQLiteGroupStore)(nil)

// NewSQLiteGroupStore initializes the required schema in the given
// database and returns a new SQLiteGroupStore.
func NewSQLiteGroupStore(db *sql.DB) (*SQLiteGroupStore, error) {
	s := &SQLiteGroupStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteGroupStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS event_groups (
			id TEXT PRIMARY KEY,
			breakdown_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL DEFAULT '',
			video_timestamp REAL NOT NULL,
			game_clock_timestamp REAL,
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			deleted_at INTEGER
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
			video_timestamp REAL NOT NULL,
			game_clock_timestamp REAL,
			metadata BLOB,
			deleted_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_events_group ON events(group_id);
	`)
	return err
}

func (s *SQLiteGroupStore) CreateGroup(ctx context.Context, g *api.EventGroup, idempotencyKey string) (*api.EventGroup, error) {
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
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID,
		g.BreakdownID,
		g.WorkflowID,
		g.VideoTimestamp,
		nullFloat(g.GameClockTimestamp),
		idempotencyKey,
		createdAt.UnixNano(),
	)
	if err != nil {
		// A concurrent commit with the same key may have won the race.
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
			INSERT INTO events (id, group_id, event_type_id, player_id, team_id, video_timestamp, game_clock_timestamp, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID,
			g.ID,
			ev.EventTypeID,
			ev.PlayerID,
			ev.TeamID,
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

func (s *SQLiteGroupStore) groupByIdempotencyKey(ctx context.Context, key string) (*api.EventGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM event_groups WHERE idempotency_key = ? AND deleted_at IS NULL`, key)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return s.GetGroup(ctx, id)
}

func (s *SQLiteGroupStore) GetGroup(ctx context.Context, id string) (*api.EventGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, breakdown_id, workflow_id, video_timestamp, game_clock_timestamp, created_at
		FROM event_groups
		WHERE id = ? AND deleted_at IS NULL`,
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

func (s *SQLiteGroupStore) ListGroups(ctx context.Context, filter GroupFilter) ([]*api.EventGroup, error) {
	query := `
		SELECT id, breakdown_id, workflow_id, video_timestamp, game_clock_timestamp, created_at
		FROM event_groups`
	clauses := []string{"deleted_at IS NULL"}
	var args []any

	if filter.BreakdownID != "" {
		clauses = append(clauses, "breakdown_id = ?")
		args = append(args, filter.BreakdownID)
	}
	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
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

func (s *SQLiteGroupStore) PatchGroup(ctx context.Context, id string, patch api.GroupPatch) (*api.EventGroup, error) {
	var sets []string
	var args []any

	if patch.VideoTimestamp != nil {
		sets = append(sets, "video_timestamp = ?")
		args = append(args, *patch.VideoTimestamp)
	}
	if patch.GameClockTimestamp != nil {
		sets = append(sets, "game_clock_timestamp = ?")
		args = append(args, *patch.GameClockTimestamp)
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx,
			"UPDATE event_groups SET "+strings.Join(sets, ", ")+" WHERE id = ? AND deleted_at IS NULL",
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

func (s *SQLiteGroupStore) PatchEvent(ctx context.Context, eventID string, patch api.EventPatch) (*api.Event, error) {
	var sets []string
	var args []any

	if patch.PlayerID != nil {
		sets = append(sets, "player_id = ?")
		args = append(args, *patch.PlayerID)
	}
	if patch.TeamID != nil {
		sets = append(sets, "team_id = ?")
		args = append(args, *patch.TeamID)
	}
	if patch.VideoTimestamp != nil {
		sets = append(sets, "video_timestamp = ?")
		args = append(args, *patch.VideoTimestamp)
	}
	if patch.GameClockTimestamp != nil {
		sets = append(sets, "game_clock_timestamp = ?")
		args = append(args, *patch.GameClockTimestamp)
	}

	if len(sets) > 0 {
		args = append(args, eventID)
		res, err := s.db.ExecContext(ctx,
			"UPDATE events SET "+strings.Join(sets, ", ")+" WHERE id = ? AND deleted_at IS NULL",
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

func (s *SQLiteGroupStore) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixNano()

	res, err := tx.ExecContext(ctx,
		`UPDATE event_groups SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now, id)
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
		`UPDATE events SET deleted_at = ? WHERE group_id = ? AND deleted_at IS NULL`, now, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteGroupStore) eventsForGroup(ctx context.Context, groupID string) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, event_type_id, player_id, team_id, video_timestamp, game_clock_timestamp, metadata
		FROM events
		WHERE group_id = ? AND deleted_at IS NULL
		ORDER BY rowid ASC`, groupID)
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

func (s *SQLiteGroupStore) getEvent(ctx context.Context, id string) (*api.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, event_type_id, player_id, team_id, video_timestamp, game_clock_timestamp, metadata
		FROM events
		WHERE id = ? AND deleted_at IS NULL`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*api.EventGroup, error) {
	var g api.EventGroup
	var gameClock sql.NullFloat64
	var createdAt int64

	if err := row.Scan(&g.ID, &g.BreakdownID, &g.WorkflowID, &g.VideoTimestamp, &gameClock, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}

	if gameClock.Valid {
		v := gameClock.Float64
		g.GameClockTimestamp = &v
	}
	g.CreatedAt = time.Unix(0, createdAt)

	return &g, nil
}

func scanEvent(row rowScanner) (*api.Event, error) {
	var ev api.Event
	var gameClock sql.NullFloat64
	var metadata []byte

	if err := row.Scan(&ev.ID, &ev.GroupID, &ev.EventTypeID, &ev.PlayerID, &ev.TeamID, &ev.VideoTimestamp, &gameClock, &metadata); err != nil {
		return nil, err
	}

	if gameClock.Valid {
		v := gameClock.Float64
		ev.GameClockTimestamp = &v
	}

	m, err := decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	ev.Metadata = m

	return &ev, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
