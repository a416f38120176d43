package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Datasets table - one row per imported sketch collection
		`CREATE TABLE IF NOT EXISTS datasets (
			name TEXT PRIMARY KEY,
			sketches INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Sketches table - stroke-3 rows stored as JSON, ordered by seq within a split
		`CREATE TABLE IF NOT EXISTS sketches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset TEXT NOT NULL REFERENCES datasets(name) ON DELETE CASCADE,
			split TEXT NOT NULL CHECK(split IN ('train', 'valid', 'test')),
			seq INTEGER NOT NULL,
			points INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,

		// Runs table - one row per training run with its effective config
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			config TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Metrics table - scalar values recorded during a run
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			step INTEGER NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sketches_dataset ON sketches(dataset, split, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_id ON metrics(run_id, name, step)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
