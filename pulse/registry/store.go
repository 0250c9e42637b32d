package registry

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/teranos/mise/db"
	"github.com/teranos/mise/errors"
)

// ErrStaleVersion is returned by Save when the stored registry is no longer
// at the version the caller read.
var ErrStaleVersion = errors.Mark(errors.New("stale registry version"), errors.ErrConflict)

// StateStore loads and saves registry state.
type StateStore interface {
	// Load returns the registry, or an error matching errors.ErrNotFound.
	Load(ctx context.Context, orgID string) (*State, error)
	// Save writes state when no row exists yet or the stored row is still at
	// readVersion. Otherwise it returns an error matching ErrStaleVersion.
	Save(ctx context.Context, state *State, readVersion int64) error
}

// Store persists registries in the job_registries table.
type Store struct {
	db *sql.DB
}

// NewStore creates a new registry store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts the registry row, or updates it if nobody wrote it since
// readVersion was loaded.
func (s *Store) Save(ctx context.Context, state *State, readVersion int64) error {
	entries := state.Entries
	if entries == nil {
		entries = []Entry{}
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrapf(err, "failed to encode entries for org %s", state.OrgID)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_registries (org_id, initialized, entries, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(org_id) DO UPDATE SET
			initialized = excluded.initialized,
			entries = excluded.entries,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE job_registries.version = ?
	`,
		state.OrgID,
		state.Initialized,
		string(entriesJSON),
		state.Version,
		db.FormatTime(state.UpdatedAt),
		readVersion,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save registry for org %s", state.OrgID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to save registry for org %s", state.OrgID)
	}
	if n == 0 {
		return errors.Wrapf(ErrStaleVersion, "registry for org %s changed since version %d", state.OrgID, readVersion)
	}
	return nil
}

// Load retrieves the registry of an organization.
func (s *Store) Load(ctx context.Context, orgID string) (*State, error) {
	var state State
	var entries, updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT org_id, initialized, entries, version, updated_at FROM job_registries WHERE org_id = ?`,
		orgID,
	).Scan(&state.OrgID, &state.Initialized, &entries, &state.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("registry for org %s does not exist", orgID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load registry for org %s", orgID)
	}

	if state.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for org %s", orgID)
	}
	if err := json.Unmarshal([]byte(entries), &state.Entries); err != nil {
		return nil, errors.Wrapf(err, "failed to decode entries for org %s", orgID)
	}
	return &state, nil
}
