package wakeup

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/mise/db"
	"github.com/teranos/mise/errors"
)

// Wakeup is one persisted durable alarm.
type Wakeup struct {
	EntityID   string
	Name       string
	DueAt      time.Time
	Period     time.Duration // zero fires once
	Generation int64         // unique per register
	UpdatedAt  time.Time
}

// Repeats reports whether the wake-up fires more than once.
func (w Wakeup) Repeats() bool {
	return w.Period > 0
}

// Store handles persistence of wake-ups
type Store struct {
	db *sql.DB
}

// NewStore creates a new wake-up store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert creates or replaces the wake-up for (EntityID, Name) and returns the
// new generation. Generations are drawn from a store-wide sequence, so a
// wake-up that was deleted and registered again never gets a value an older
// delivery could still be holding.
func (s *Store) Upsert(ctx context.Context, w Wakeup) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to begin registering wake-up %s/%s", w.EntityID, w.Name)
	}
	defer tx.Rollback()

	var generation int64
	err = tx.QueryRowContext(ctx,
		`UPDATE wakeup_sequence SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&generation)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to allocate generation for wake-up %s/%s", w.EntityID, w.Name)
	}

	query := `
		INSERT INTO wakeups (entity_id, name, due_at, period_ms, generation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, name) DO UPDATE SET
			due_at = excluded.due_at,
			period_ms = excluded.period_ms,
			generation = excluded.generation,
			updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		w.EntityID,
		w.Name,
		db.FormatTime(w.DueAt),
		w.Period.Milliseconds(),
		generation,
		db.FormatTime(w.UpdatedAt),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to register wake-up %s/%s", w.EntityID, w.Name)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(err, "failed to commit wake-up %s/%s", w.EntityID, w.Name)
	}
	return generation, nil
}

// Delete removes the wake-up. Deleting a missing wake-up is not an error.
func (s *Store) Delete(ctx context.Context, entityID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM wakeups WHERE entity_id = ? AND name = ?`,
		entityID, name)
	if err != nil {
		return errors.Wrapf(err, "failed to unregister wake-up %s/%s", entityID, name)
	}
	return nil
}

// Get returns the wake-up, or an error matching errors.ErrNotFound.
func (s *Store) Get(ctx context.Context, entityID, name string) (*Wakeup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, name, due_at, period_ms, generation, updated_at
		FROM wakeups
		WHERE entity_id = ? AND name = ?
	`, entityID, name)

	w, err := scanWakeup(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("wake-up %s/%s", entityID, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get wake-up %s/%s", entityID, name)
	}
	return w, nil
}

// ListDue returns up to limit wake-ups due at or before now, earliest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]Wakeup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, name, due_at, period_ms, generation, updated_at
		FROM wakeups
		WHERE due_at <= ?
		ORDER BY due_at ASC
		LIMIT ?
	`, db.FormatTime(now), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due wake-ups")
	}
	defer rows.Close()

	return scanWakeups(rows)
}

// ListByEntity returns every wake-up registered for entityID.
func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]Wakeup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, name, due_at, period_ms, generation, updated_at
		FROM wakeups
		WHERE entity_id = ?
		ORDER BY name ASC
	`, entityID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list wake-ups for %s", entityID)
	}
	defer rows.Close()

	return scanWakeups(rows)
}

// NextDue returns the earliest pending wake-up, or nil when there is none.
func (s *Store) NextDue(ctx context.Context) (*Wakeup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, name, due_at, period_ms, generation, updated_at
		FROM wakeups
		ORDER BY due_at ASC
		LIMIT 1
	`)

	w, err := scanWakeup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next wake-up")
	}
	return w, nil
}

// Advance moves a repeating wake-up to dueAt, but only if it has not been
// re-registered since generation was read. Returns false when it was.
func (s *Store) Advance(ctx context.Context, entityID, name string, generation int64, dueAt, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wakeups
		SET due_at = ?, updated_at = ?
		WHERE entity_id = ? AND name = ? AND generation = ?
	`, db.FormatTime(dueAt), db.FormatTime(now), entityID, name, generation)
	if err != nil {
		return false, errors.Wrapf(err, "failed to advance wake-up %s/%s", entityID, name)
	}
	return affected(res)
}

// Complete removes a one-shot wake-up, but only if it has not been
// re-registered since generation was read. Returns false when it was.
func (s *Store) Complete(ctx context.Context, entityID, name string, generation int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM wakeups
		WHERE entity_id = ? AND name = ? AND generation = ?
	`, entityID, name, generation)
	if err != nil {
		return false, errors.Wrapf(err, "failed to complete wake-up %s/%s", entityID, name)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWakeup(row scanner) (*Wakeup, error) {
	var w Wakeup
	var dueAt, updatedAt string
	var periodMs int64

	if err := row.Scan(&w.EntityID, &w.Name, &dueAt, &periodMs, &w.Generation, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	w.DueAt, err = db.ParseTime(dueAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse due_at for %s/%s", w.EntityID, w.Name)
	}
	w.UpdatedAt, err = db.ParseTime(updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for %s/%s", w.EntityID, w.Name)
	}
	w.Period = time.Duration(periodMs) * time.Millisecond
	return &w, nil
}

func scanWakeups(rows *sql.Rows) ([]Wakeup, error) {
	var wakeups []Wakeup
	for rows.Next() {
		w, err := scanWakeup(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan wake-up")
		}
		wakeups = append(wakeups, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate wake-ups")
	}
	return wakeups, nil
}
