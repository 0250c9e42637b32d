package commands

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teranos/mise/am"
	"github.com/teranos/mise/db"
	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
	"github.com/teranos/mise/pulse"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it loads from am config.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// withHost runs fn against a host that is not delivering wake-ups. One-shot
// commands use it to reach the same actors the daemon runs.
func withHost(ctx context.Context, fn func(*pulse.Host) error) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	// Metrics are only served by the daemon
	host, err := pulse.NewHost(ctx, database, cfg, pulse.WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	defer host.Stop()

	return fn(host)
}
