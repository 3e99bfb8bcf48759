// Package sqlclient is a durable, SQLite-backed implementation of
// clientstore.Store: every operation is one transaction against a
// single-writer database, matching the in-memory reference
// implementation's atomicity guarantees but surviving process restarts.
package sqlclient

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/webitel/sync-engine/internal/domain/clientstore"
	"github.com/webitel/sync-engine/internal/domain/model"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Store is a clientstore.Store backed by a single SQLite file.
type Store struct {
	db    *sql.DB
	views map[string]clientstore.View
}

// Open creates or opens the SQLite database at path. Callers must still
// call Init before use; Open alone does not touch the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlclient: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlclient: ping: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, views: make(map[string]clientstore.View)}, nil
}

// Init applies pragmas and schema migrations, and fails fast if the file
// carries a schema version newer than this binary understands.
func (s *Store) Init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlclient: pragma %q: %w", p, err)
		}
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlclient: read user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("sqlclient: database schema version %d is newer than this binary supports (%d)", version, currentSchemaVersion)
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlclient: apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("sqlclient: set user_version: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func joinPartitions(parts []string) string { return strings.Join(parts, ",") }
func splitPartitions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (s *Store) InsertDraft(ctx context.Context, d model.Draft) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlclient: begin: %w", err)
	}
	defer tx.Rollback()

	var maxClock sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(draft_clock) FROM local_drafts").Scan(&maxClock); err != nil {
		return fmt.Errorf("sqlclient: read draft clock: %w", err)
	}
	d.DraftClock = uint64(maxClock.Int64) + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO local_drafts (id, client_id, partitions, event, draft_clock, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ClientID, joinPartitions(d.Partitions), []byte(d.Event), d.DraftClock, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlclient: insert draft %q: %w", d.ID, err)
	}
	return tx.Commit()
}

func (s *Store) LoadDraftsOrdered(ctx context.Context) ([]model.Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, partitions, event, draft_clock, created_at FROM local_drafts ORDER BY draft_clock, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlclient: load drafts: %w", err)
	}
	defer rows.Close()

	var out []model.Draft
	for rows.Next() {
		var d model.Draft
		var parts string
		var event []byte
		if err := rows.Scan(&d.ID, &d.ClientID, &parts, &event, &d.DraftClock, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlclient: scan draft: %w", err)
		}
		d.Partitions = splitPartitions(parts)
		d.Event = event
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ApplySubmitResult(ctx context.Context, app clientstore.SubmitResultApplication) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlclient: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM local_drafts WHERE id = ?`, app.Result.ID); err != nil {
		return fmt.Errorf("sqlclient: delete draft %q: %w", app.Result.ID, err)
	}

	if app.Result.Status == model.StatusCommitted && app.Event != nil {
		if err := s.upsertCommittedTx(ctx, tx, *app.Event); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ApplyCommittedBatch(ctx context.Context, app clientstore.CommittedBatchApplication) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlclient: begin: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range app.Events {
		var existingCommittedID sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT committed_id FROM committed_events WHERE id = ?`, ev.ID).Scan(&existingCommittedID)
		switch {
		case err == sql.ErrNoRows:
			if err := s.upsertCommittedTx(ctx, tx, ev); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("sqlclient: lookup committed %q: %w", ev.ID, err)
		default:
			if uint64(existingCommittedID.Int64) != ev.CommittedID {
				return fmt.Errorf("sqlclient: fatal invariant violation: id %q observed with committed_id %d and %d", ev.ID, existingCommittedID.Int64, ev.CommittedID)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM local_drafts WHERE id = ?`, ev.ID); err != nil {
			return fmt.Errorf("sqlclient: delete draft %q: %w", ev.ID, err)
		}
	}

	if app.NextCursor != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cursor SET value = MAX(value, ?) WHERE id = 0`, *app.NextCursor); err != nil {
			return fmt.Errorf("sqlclient: advance cursor: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) upsertCommittedTx(ctx context.Context, tx *sql.Tx, ev model.CommittedEvent) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO committed_events (id, client_id, partitions, committed_id, event, status_updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.ClientID, joinPartitions(ev.Partitions), ev.CommittedID, []byte(ev.Event), ev.StatusUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlclient: insert committed %q: %w", ev.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("sqlclient: insert committed %q: %w", ev.ID, err)
	} else if n == 0 {
		// Row already present: reducers do not re-fire.
		return nil
	}

	for name, view := range s.views {
		for _, part := range ev.Partitions {
			if err := s.reduceViewTx(ctx, tx, name, view, part, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) reduceViewTx(ctx context.Context, tx *sql.Tx, name string, view clientstore.View, part string, ev model.CommittedEvent) error {
	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT state FROM view_state WHERE view_name = ? AND partition = ?`, name, part).Scan(&raw)

	var state any
	switch {
	case err == sql.ErrNoRows:
		state = view.Init()
	case err != nil:
		return fmt.Errorf("sqlclient: load view state %s/%s: %w", name, part, err)
	default:
		state = view.Init()
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("sqlclient: decode view state %s/%s: %w", name, part, err)
		}
	}

	next := view.Reduce(state, ev, part)
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("sqlclient: encode view state %s/%s: %w", name, part, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO view_state (view_name, partition, version, state) VALUES (?, ?, ?, ?)
		 ON CONFLICT(view_name, partition) DO UPDATE SET version = excluded.version, state = excluded.state`,
		name, part, view.Version(), encoded,
	)
	if err != nil {
		return fmt.Errorf("sqlclient: persist view state %s/%s: %w", name, part, err)
	}
	return nil
}

func (s *Store) LoadCursor(ctx context.Context) (uint64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM cursor WHERE id = 0`).Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlclient: load cursor: %w", err)
	}
	return uint64(v), nil
}

func (s *Store) LoadMaterializedView(ctx context.Context, viewName, part string) (any, error) {
	view, ok := s.views[viewName]
	if !ok {
		return nil, fmt.Errorf("sqlclient: unknown view %q", viewName)
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM view_state WHERE view_name = ? AND partition = ?`, viewName, part).Scan(&raw)
	if err == sql.ErrNoRows {
		return view.Init(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlclient: load view %s/%s: %w", viewName, part, err)
	}

	state := view.Init()
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("sqlclient: decode view %s/%s: %w", viewName, part, err)
	}
	return state, nil
}

// RegisterView wires v for future ApplyCommittedBatch calls and rebuilds
// its persisted state from the full committed log when v.Version() does
// not match what is already on disk for any of its partitions.
func (s *Store) RegisterView(ctx context.Context, v clientstore.View) error {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT partition, version FROM view_state WHERE view_name = ?`, v.Name())
	if err != nil {
		return fmt.Errorf("sqlclient: read view versions: %w", err)
	}
	stale := false
	for rows.Next() {
		var part, version string
		if err := rows.Scan(&part, &version); err != nil {
			rows.Close()
			return fmt.Errorf("sqlclient: scan view version: %w", err)
		}
		if version != v.Version() {
			stale = true
		}
	}
	rows.Close()

	s.views[v.Name()] = v
	if !stale {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlclient: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM view_state WHERE view_name = ?`, v.Name()); err != nil {
		return fmt.Errorf("sqlclient: clear stale view state: %w", err)
	}

	committed, err := s.allCommittedOrderedTx(ctx, tx)
	if err != nil {
		return err
	}
	for _, ev := range committed {
		for _, part := range ev.Partitions {
			if err := s.reduceViewTx(ctx, tx, v.Name(), v, part, ev); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *Store) allCommittedOrderedTx(ctx context.Context, tx *sql.Tx) ([]model.CommittedEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, client_id, partitions, committed_id, event, status_updated_at FROM committed_events ORDER BY committed_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlclient: read committed log: %w", err)
	}
	defer rows.Close()

	var out []model.CommittedEvent
	for rows.Next() {
		var ev model.CommittedEvent
		var parts string
		var event []byte
		if err := rows.Scan(&ev.ID, &ev.ClientID, &parts, &ev.CommittedID, &event, &ev.StatusUpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlclient: scan committed: %w", err)
		}
		ev.Partitions = splitPartitions(parts)
		ev.Event = event
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedID < out[j].CommittedID })
	return out, rows.Err()
}

var _ clientstore.Store = (*Store)(nil)
