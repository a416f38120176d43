package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Noofbiz/sketchrnn/datasets"
	"github.com/Noofbiz/sketchrnn/stroke"
)

// Dataset describes an imported sketch collection.
type Dataset struct {
	Name      string    `json:"name"`
	Sketches  int       `json:"sketches"`
	CreatedAt time.Time `json:"created_at"`
}

// SketchRepository stores the train, valid and test splits of named datasets.
type SketchRepository struct {
	db *sql.DB
}

// Sketches returns the sketch repository for this store.
func (s *Store) Sketches() *SketchRepository {
	return &SketchRepository{db: s.db}
}

// Import stores raw under name in a single transaction, replacing any
// dataset already stored under that name.
func (r *SketchRepository) Import(name string, raw *datasets.RawSplits) error {
	if name == "" {
		return fmt.Errorf("dataset name is empty")
	}
	if err := raw.Validate(); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM datasets WHERE name = ?`, name); err != nil {
		return err
	}
	total := len(raw.Train) + len(raw.Valid) + len(raw.Test)
	if _, err := tx.Exec(`INSERT INTO datasets (name, sketches, created_at) VALUES (?, ?, ?)`,
		name, total, time.Now()); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO sketches (dataset, split, seq, points, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, split := range []struct {
		name string
		seqs []stroke.Sequence
	}{
		{datasets.SplitTrain, raw.Train},
		{datasets.SplitValid, raw.Valid},
		{datasets.SplitTest, raw.Test},
	} {
		for i, s := range split.seqs {
			data, err := json.Marshal(s.Rows())
			if err != nil {
				return fmt.Errorf("encode %s sketch %d: %w", split.name, i, err)
			}
			if _, err := stmt.Exec(name, split.name, i, len(s), string(data)); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Get returns the dataset row for name.
func (r *SketchRepository) Get(name string) (*Dataset, error) {
	d := &Dataset{}
	err := r.db.QueryRow(
		`SELECT name, sketches, created_at FROM datasets WHERE name = ?`,
		name,
	).Scan(&d.Name, &d.Sketches, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// Load reads back the splits of name. Empty splits come back as empty,
// non-nil slices.
func (r *SketchRepository) Load(ctx context.Context, name string) (*datasets.RawSplits, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM datasets WHERE name = ?`, name).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT split, data FROM sketches WHERE dataset = ? ORDER BY split, seq`,
		name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	raw := &datasets.RawSplits{
		Train: []stroke.Sequence{},
		Valid: []stroke.Sequence{},
		Test:  []stroke.Sequence{},
	}
	for rows.Next() {
		var split, data string
		if err := rows.Scan(&split, &data); err != nil {
			return nil, err
		}
		var points [][]float32
		if err := json.Unmarshal([]byte(data), &points); err != nil {
			return nil, fmt.Errorf("decode %s %s sketch: %w", name, split, err)
		}
		s, err := datasets.SequenceFromRows(points)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s sketch: %w", name, split, err)
		}
		switch split {
		case datasets.SplitTrain:
			raw.Train = append(raw.Train, s)
		case datasets.SplitValid:
			raw.Valid = append(raw.Valid, s)
		case datasets.SplitTest:
			raw.Test = append(raw.Test, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return raw, nil
}

// Names lists the stored dataset names in alphabetical order.
func (r *SketchRepository) Names() ([]string, error) {
	rows, err := r.db.Query(`SELECT name FROM datasets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// Delete removes a dataset and its sketches.
func (r *SketchRepository) Delete(name string) error {
	result, err := r.db.Exec(`DELETE FROM datasets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Source exposes a stored dataset as a datasets.Source.
func (s *Store) Source(name string) datasets.Source {
	return sketchSource{repo: s.Sketches(), name: name}
}

type sketchSource struct {
	repo *SketchRepository
	name string
}

func (s sketchSource) Name() string { return s.name }

func (s sketchSource) Load(ctx context.Context) (*datasets.RawSplits, error) {
	return s.repo.Load(ctx, s.name)
}
