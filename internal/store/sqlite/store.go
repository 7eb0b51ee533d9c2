// Package sqlite provides a SQLite-backed slot and entity store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xyzzy121/Unicopia/internal/slot"
	"github.com/xyzzy121/Unicopia/internal/store"
	"github.com/xyzzy121/Unicopia/internal/store/sqlite/migrations"
)

// Store persists slot and entity state in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveSlots replaces every slot row of actorID in one transaction.
func (s *Store) SaveSlots(ctx context.Context, actorID string, snaps []slot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return fmt.Errorf("actor id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save slots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ability_slots WHERE actor_id = ?`, actorID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear slots: %w", err)
	}
	updatedAt := s.now().UTC().UnixMilli()
	for _, snap := range snaps {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO ability_slots (
			   actor_id,
			   slot_index,
			   ability_id,
			   state,
			   ticks_remaining,
			   seq,
			   version,
			   updated_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			actorID,
			snap.Index,
			snap.AbilityID,
			snap.State,
			int64(snap.TicksRemaining),
			int64(snap.Seq),
			int64(snap.Version),
			updatedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert slot %d: %w", snap.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save slots: %w", err)
	}
	return nil
}

// LoadSlots returns the saved snapshots of actorID in slot order.
func (s *Store) LoadSlots(ctx context.Context, actorID string) ([]slot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT slot_index, ability_id, state, ticks_remaining, seq, version
		   FROM ability_slots
		  WHERE actor_id = ?
		  ORDER BY slot_index`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var snaps []slot.Snapshot
	for rows.Next() {
		var (
			snap                slot.Snapshot
			ticks, seq, version int64
		)
		if err := rows.Scan(&snap.Index, &snap.AbilityID, &snap.State, &ticks, &seq, &version); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		snap.TicksRemaining = uint32(ticks)
		snap.Seq = uint64(seq)
		snap.Version = uint64(version)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	if len(snaps) == 0 {
		return nil, store.ErrNotFound
	}
	return snaps, nil
}

// DeleteSlots removes every slot row of actorID.
func (s *Store) DeleteSlots(ctx context.Context, actorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM ability_slots WHERE actor_id = ?`, actorID); err != nil {
		return fmt.Errorf("delete slots: %w", err)
	}
	return nil
}

// SaveEntity upserts one encoded entity record.
func (s *Store) SaveEntity(ctx context.Context, kind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(kind) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("entity kind and id are required")
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO entities (kind, entity_id, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, entity_id) DO UPDATE SET
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		kind,
		id,
		data,
		s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save entity %s/%s: %w", kind, id, err)
	}
	return nil
}

// LoadEntity returns the record under kind and id.
func (s *Store) LoadEntity(ctx context.Context, kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	var data []byte
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT data FROM entities WHERE kind = ? AND entity_id = ?`,
		kind,
		id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load entity %s/%s: %w", kind, id, err)
	}
	return data, nil
}

// DeleteEntity removes the record under kind and id.
func (s *Store) DeleteEntity(ctx context.Context, kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND entity_id = ?`, kind, id); err != nil {
		return fmt.Errorf("delete entity %s/%s: %w", kind, id, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
